// Package ticketing provides the create_request tool, which opens a request
// in the IT service desk.
package ticketing

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/sops-mcp/pkg/schema"
	"github.com/effective-security/sops-mcp/tools"
	"github.com/effective-security/sops-mcp/validation"
)

//go:generate mockgen -source=ticketing.go -destination=../../mocks/mockticketing/ticketing_mock.gen.go -package mockticketing

const ToolName = tools.CreateRequest

// Defaults
const (
	DefaultCategory    = "Request"
	DefaultLevel       = "low"
	DefaultSupportTier = "tier1"
	DefaultStatus      = "open"
	DefaultSource      = "External"
)

// CreateRequest represents the tool input.
type CreateRequest struct {
	Subject        string `json:"subject" yaml:"subject" validate:"required" jsonschema:"title=Subject,description=Subject of the request."`
	RequesterEmail string `json:"requester_email" yaml:"requester_email" validate:"required,mailbox" jsonschema:"title=Requester Email,description=Email address of the user registered for the client."`
	Description    string `json:"description,omitempty" yaml:"description,omitempty" jsonschema:"title=Description,description=Additional description of the request."`
	Category       string `json:"category,omitempty" yaml:"category,omitempty" jsonschema:"title=Category,description=Category name of the request.,default=Request"`

	Impact      string `json:"impact,omitempty" yaml:"impact,omitempty" validate:"oneof=low medium high urgent" jsonschema:"title=Impact,description=Effect of the request.,enum=low,enum=medium,enum=high,enum=urgent,default=low"`
	Priority    string `json:"priority,omitempty" yaml:"priority,omitempty" validate:"oneof=low medium high urgent" jsonschema:"title=Priority,description=Importance of the request.,enum=low,enum=medium,enum=high,enum=urgent,default=low"`
	Urgency     string `json:"urgency,omitempty" yaml:"urgency,omitempty" validate:"oneof=low medium high urgent" jsonschema:"title=Urgency,description=Urgency of the request.,enum=low,enum=medium,enum=high,enum=urgent,default=low"`
	SupportTier string `json:"support_tier,omitempty" yaml:"support_tier,omitempty" validate:"oneof=tier1 tier2 tier3 tier4" jsonschema:"title=Support Tier,description=Level of support.,enum=tier1,enum=tier2,enum=tier3,enum=tier4,default=tier1"`
	Status      string `json:"status,omitempty" yaml:"status,omitempty" validate:"oneof=open in_progress pending resolved closed" jsonschema:"title=Status,description=Initial status of the request.,enum=open,enum=in_progress,enum=pending,enum=resolved,enum=closed,default=open"`
	Source      string `json:"source,omitempty" yaml:"source,omitempty" jsonschema:"title=Source,description=Origin of the request.,default=External"`
	Spam        bool   `json:"spam,omitempty" yaml:"spam,omitempty" jsonschema:"title=Spam,description=Whether the request is spam.,default=false"`

	Tags            []string `json:"tags,omitempty" yaml:"tags,omitempty" jsonschema:"title=Tags,description=Additional identifiers attached to the request."`
	Department      string   `json:"department,omitempty" yaml:"department,omitempty" jsonschema:"title=Department,description=Department name."`
	Location        string   `json:"location,omitempty" yaml:"location,omitempty" jsonschema:"title=Location,description=Location where the issue happened."`
	Assignee        string   `json:"assignee,omitempty" yaml:"assignee,omitempty" validate:"omitempty,mailbox" jsonschema:"title=Assignee,description=Email address of the assignee."`
	TechnicianGroup string   `json:"technician_group,omitempty" yaml:"technician_group,omitempty" jsonschema:"title=Technician Group,description=Name of the technician group."`
	CC              []string `json:"cc,omitempty" yaml:"cc,omitempty" validate:"omitempty,dive,mailbox" jsonschema:"title=CC,description=Email addresses to notify."`

	Links        *Links         `json:"links,omitempty" yaml:"links,omitempty" jsonschema:"title=Links,description=Related assets and configuration items."`
	CustomFields map[string]any `json:"custom_fields,omitempty" yaml:"custom_fields,omitempty" jsonschema:"title=Custom Fields,description=Custom field values by name."`
	Attachments  []Attachment   `json:"attachments,omitempty" yaml:"attachments,omitempty" validate:"omitempty,dive" jsonschema:"title=Attachments,description=References to uploaded files."`
}

// Links references related entities.
type Links struct {
	Assets []AssetLink `json:"assets,omitempty" yaml:"assets,omitempty" validate:"omitempty,dive" jsonschema:"title=Assets,description=Assets to link."`
	CIs    []CILink    `json:"cis,omitempty" yaml:"cis,omitempty" validate:"omitempty,dive" jsonschema:"title=CIs,description=Configuration items to link."`
}

// AssetLink references an asset.
type AssetLink struct {
	AssetModel string `json:"asset_model" yaml:"asset_model" validate:"required" jsonschema:"title=Asset Model,description=Model of the asset.,example=asset_hardware"`
	AssetID    int64  `json:"asset_id" yaml:"asset_id" validate:"required" jsonschema:"title=Asset ID,description=Identifier of the asset."`
}

// CILink references a configuration item.
type CILink struct {
	CIModel string `json:"ci_model" yaml:"ci_model" validate:"required" jsonschema:"title=CI Model,description=Model of the configuration item.,example=cmdb"`
	CIID    int64  `json:"ci_id" yaml:"ci_id" validate:"required" jsonschema:"title=CI ID,description=Identifier of the configuration item."`
}

// Attachment references an uploaded file.
type Attachment struct {
	RefFileName string `json:"ref_file_name" yaml:"ref_file_name" validate:"required" jsonschema:"title=Reference File Name,description=Name of the uploaded file reference."`
	RealName    string `json:"real_name" yaml:"real_name" validate:"required" jsonschema:"title=Real Name,description=Original file name."`
}

// SetDefaults fills the optional fields that were not provided.
func (r *CreateRequest) SetDefaults() {
	if r.Category == "" {
		r.Category = DefaultCategory
	}
	if r.Impact == "" {
		r.Impact = DefaultLevel
	}
	if r.Priority == "" {
		r.Priority = DefaultLevel
	}
	if r.Urgency == "" {
		r.Urgency = DefaultLevel
	}
	if r.SupportTier == "" {
		r.SupportTier = DefaultSupportTier
	}
	if r.Status == "" {
		r.Status = DefaultStatus
	}
	if r.Source == "" {
		r.Source = DefaultSource
	}
}

// TicketResult represents the tool output.
type TicketResult struct {
	Success bool   `json:"success" yaml:"success"`
	Message string `json:"message" yaml:"message"`
	// ID is the identifier assigned by the service desk, when the response has one.
	ID          string          `json:"id,omitempty" yaml:"id,omitempty"`
	RequestData json.RawMessage `json:"request_data,omitempty" yaml:"-"`
	RawResponse string          `json:"raw_response,omitempty" yaml:"raw_response,omitempty"`
}

// Creator creates a service desk request.
type Creator interface {
	Create(ctx context.Context, req *CreateRequest) (*TicketResult, error)
}

// Tool is a tool that creates service desk requests
type Tool struct {
	name        string
	description string
	funcParams  any

	creator Creator
}

// ensure Tool implements the tools.Tool interface
var _ tools.Tool[CreateRequest, TicketResult] = (*Tool)(nil)

// New returns the create_request tool.
func New(creator Creator) (*Tool, error) {
	if creator == nil {
		return nil, errors.New("creator is required")
	}
	sc, err := schema.New(reflect.TypeOf(CreateRequest{}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create schema")
	}
	return &Tool{
		name:        ToolName,
		description: "Create a new request (ticket) in the IT service desk. Requires a subject and the email of the requester; returns the identifier of the created request.",
		funcParams:  sc.Parameters,
		creator:     creator,
	}, nil
}

func (t *Tool) Name() string {
	return t.name
}

func (t *Tool) Description() string {
	return t.description
}

func (t *Tool) Parameters() any {
	return t.funcParams
}

// Example returns a generated input that passes validation.
func (t *Tool) Example() any {
	req := &CreateRequest{
		Subject:        gofakeit.HackerPhrase(),
		RequesterEmail: gofakeit.Email(),
		Priority:       gofakeit.RandomString([]string{"low", "medium", "high", "urgent"}),
		Department:     gofakeit.Company(),
		Location:       gofakeit.City(),
		CC:             []string{gofakeit.Email()},
	}
	req.SetDefaults()
	return req
}

// Run validates the request and creates it.
// Nothing is sent when validation fails.
func (t *Tool) Run(ctx context.Context, req *CreateRequest) (*TicketResult, error) {
	if req == nil {
		req = &CreateRequest{}
	}
	validation.TrimStrings(req)
	req.SetDefaults()
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	return t.creator.Create(ctx, req)
}

func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	return tools.CallWith[CreateRequest, TicketResult](ctx, t, input)
}
