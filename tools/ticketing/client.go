package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sops-mcp/config"
	"github.com/effective-security/sops-mcp/pkg/metricskey"
	"github.com/effective-security/sops-mcp/toolerr"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sops-mcp", "tools/ticketing")

// RequestPath is appended to the configured base URL
const RequestPath = "/api/v1/request"

// MessageCreated is returned on success
const MessageCreated = "Request created successfully"

// idPaths are the locations of the request identifier in the response
var idPaths = []string{"id", "requestId", "request_id", "result.id", "data.id"}

var levelNames = map[string]string{
	"low":    "Low",
	"medium": "Medium",
	"high":   "High",
	"urgent": "Urgent",
}

var statusNames = map[string]string{
	"open":        "Open",
	"in_progress": "In Progress",
	"pending":     "Pending",
	"resolved":    "Resolved",
	"closed":      "Closed",
}

// Doer performs a HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the Creator backed by the service desk REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient Doer
}

// ensure Client implements the Creator interface
var _ Creator = (*Client)(nil)

// NewClient returns a service desk client.
func NewClient(cfg config.TicketingConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.AccessToken,
		httpClient: http.DefaultClient,
	}
}

// WithHTTPClient sets the HTTP client.
func (c *Client) WithHTTPClient(d Doer) *Client {
	c.httpClient = d
	return c
}

// Payload is the wire format of a new request.
type Payload struct {
	Subject             string           `json:"subject"`
	RequesterEmail      string           `json:"requesterEmail"`
	ImpactName          string           `json:"impactName"`
	PriorityName        string           `json:"priorityName"`
	UrgencyName         string           `json:"urgencyName"`
	StatusName          string           `json:"statusName"`
	Spam                bool             `json:"spam"`
	SupportLevel        string           `json:"supportLevel,omitempty"`
	CategoryName        string           `json:"categoryName,omitempty"`
	Source              string           `json:"source,omitempty"`
	CCEmailSet          []string         `json:"ccEmailSet,omitempty"`
	Tags                []string         `json:"tags,omitempty"`
	DepartmentName      string           `json:"departmentName,omitempty"`
	LocationName        string           `json:"locationName,omitempty"`
	AssigneeEmail       string           `json:"assigneeEmail,omitempty"`
	TechnicianGroupName string           `json:"technicianGroupName,omitempty"`
	Description         string           `json:"description,omitempty"`
	CustomField         map[string]any   `json:"customField,omitempty"`
	LinkAssetIDs        []assetLink      `json:"linkAssetIds,omitempty"`
	LinkCIIDs           []ciLink         `json:"linkCiIds,omitempty"`
	FileAttachments     []fileAttachment `json:"fileAttachments,omitempty"`
}

type assetLink struct {
	AssetModel string `json:"assetModel"`
	AssetID    int64  `json:"assetId"`
}

type ciLink struct {
	CIID    int64  `json:"ciId"`
	CIModel string `json:"ciModel"`
}

type fileAttachment struct {
	RefFileName string `json:"refFileName"`
	RealName    string `json:"realName"`
}

// NewPayload maps a validated request to the wire format.
// Category and source are sent only when they differ from the defaults.
func NewPayload(req *CreateRequest) *Payload {
	p := &Payload{
		Subject:             req.Subject,
		RequesterEmail:      req.RequesterEmail,
		ImpactName:          levelName(req.Impact),
		PriorityName:        levelName(req.Priority),
		UrgencyName:         levelName(req.Urgency),
		StatusName:          statusName(req.Status),
		Spam:                req.Spam,
		SupportLevel:        strings.ToLower(req.SupportTier),
		CCEmailSet:          req.CC,
		Tags:                req.Tags,
		DepartmentName:      req.Department,
		LocationName:        req.Location,
		AssigneeEmail:       req.Assignee,
		TechnicianGroupName: req.TechnicianGroup,
		Description:         req.Description,
		CustomField:         req.CustomFields,
	}
	if req.Category != DefaultCategory {
		p.CategoryName = req.Category
	}
	if req.Source != DefaultSource {
		p.Source = req.Source
	}
	if req.Links != nil {
		for _, l := range req.Links.Assets {
			p.LinkAssetIDs = append(p.LinkAssetIDs, assetLink{AssetModel: l.AssetModel, AssetID: l.AssetID})
		}
		for _, l := range req.Links.CIs {
			p.LinkCIIDs = append(p.LinkCIIDs, ciLink{CIID: l.CIID, CIModel: l.CIModel})
		}
	}
	for _, a := range req.Attachments {
		p.FileAttachments = append(p.FileAttachments, fileAttachment{RefFileName: a.RefFileName, RealName: a.RealName})
	}
	return p
}

func levelName(v string) string {
	if n, ok := levelNames[v]; ok {
		return n
	}
	return v
}

func statusName(v string) string {
	if n, ok := statusNames[v]; ok {
		return n
	}
	return v
}

// Create sends the request in a single POST.
func (c *Client) Create(ctx context.Context, req *CreateRequest) (*TicketResult, error) {
	payload, err := json.Marshal(NewPayload(req))
	if err != nil {
		return nil, toolerr.Wrapf(errors.WithStack(err), "marshal payload")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+RequestPath, bytes.NewReader(payload))
	if err != nil {
		return nil, toolerr.Wrapf(errors.WithStack(err), "create request")
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("X-Request-ID", requestID)

	started := time.Now()
	r, err := c.httpClient.Do(httpReq)
	metricskey.PerfAdapterCall.MeasureSince(started, ToolName, "create")
	if err != nil {
		return nil, toolerr.Normalize(err)
	}
	defer func() {
		_ = r.Body.Close()
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, toolerr.Normalize(err)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"request_id", requestID,
		"status", r.StatusCode,
		"duration", time.Since(started).String(),
	)

	if te := toolerr.FromStatus(r.StatusCode, body); te != nil {
		return nil, te
	}

	res := &TicketResult{
		Success: true,
		Message: MessageCreated,
	}
	if json.Valid(body) {
		res.RequestData = json.RawMessage(body)
		for _, path := range idPaths {
			if v := gjson.GetBytes(body, path); v.Exists() && v.Type != gjson.Null && v.Type != gjson.JSON {
				res.ID = v.String()
				break
			}
		}
	} else {
		res.RawResponse = string(body)
	}
	return res, nil
}
