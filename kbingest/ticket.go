package kbingest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// Source is the metadata source of ingested tickets
const Source = "IT_Service_Desk_Dashboard"

// maxResolutionSummary limits the resolution copied into metadata
const maxResolutionSummary = 200

// Dashboard is a service desk export.
type Dashboard struct {
	Info    DashboardInfo `json:"dashboardInfo" yaml:"dashboard_info"`
	Tickets []Ticket      `json:"tickets" yaml:"tickets"`
}

// DashboardInfo describes the export.
type DashboardInfo struct {
	Date     string `json:"date" yaml:"date"`
	Time     string `json:"time" yaml:"time"`
	Location string `json:"location" yaml:"location"`
}

// Requester is the user who reported the ticket.
type Requester struct {
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
}

// Ticket is a service desk ticket.
type Ticket struct {
	TicketID        string    `json:"ticketId" yaml:"ticket_id"`
	Subject         string    `json:"subject" yaml:"subject"`
	Category        string    `json:"category" yaml:"category"`
	Priority        string    `json:"priority" yaml:"priority"`
	Status          string    `json:"status" yaml:"status"`
	AssignedTo      string    `json:"assignedTo" yaml:"assigned_to"`
	Requester       Requester `json:"requester" yaml:"requester"`
	DateReported    string    `json:"dateReported" yaml:"date_reported"`
	UserDescription string    `json:"userDescription" yaml:"user_description"`
	UpdateHistory   []string  `json:"updateHistory,omitempty" yaml:"update_history,omitempty"`
	Resolution      *string   `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	NextSteps       *string   `json:"nextSteps,omitempty" yaml:"next_steps,omitempty"`
}

// Load reads a dashboard export from file.
func Load(file string) (*Dashboard, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	d, err := Parse(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load %s", file)
	}
	return d, nil
}

// Parse decodes a dashboard export.
func Parse(r io.Reader) (*Dashboard, error) {
	d := new(Dashboard)
	if err := json.NewDecoder(r).Decode(d); err != nil {
		return nil, errors.Wrap(err, "unable to decode dashboard")
	}
	return d, nil
}

// Text returns the representation of the ticket that is embedded.
func (t *Ticket) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket ID: %s\n", t.TicketID)
	fmt.Fprintf(&b, "Subject: %s\n", t.Subject)
	fmt.Fprintf(&b, "Category: %s\n", t.Category)
	fmt.Fprintf(&b, "Priority: %s\n", t.Priority)
	fmt.Fprintf(&b, "Status: %s\n", t.Status)
	fmt.Fprintf(&b, "Assigned to: %s\n", t.AssignedTo)
	fmt.Fprintf(&b, "Requester: %s (%s)\n", t.Requester.Name, t.Requester.Email)
	fmt.Fprintf(&b, "Date Reported: %s\n", t.DateReported)
	fmt.Fprintf(&b, "User Description: %s", t.UserDescription)

	if len(t.UpdateHistory) > 0 {
		b.WriteString("\nUpdate History:")
		for _, u := range t.UpdateHistory {
			fmt.Fprintf(&b, "\n- %s", u)
		}
	}
	if t.Resolution != nil && *t.Resolution != "" {
		fmt.Fprintf(&b, "\nResolution: %s", *t.Resolution)
	}
	if t.NextSteps != nil && *t.NextSteps != "" {
		fmt.Fprintf(&b, "\nNext Steps: %s", *t.NextSteps)
	}
	return b.String()
}

// DocumentID returns the index record id: the ticket id and
// the first 8 hex digits of the content hash.
func (t *Ticket) DocumentID() string {
	h := fmt.Sprintf("%016x", xxhash.Sum64String(t.Text()))
	return t.TicketID + "_" + h[:8]
}

// Metadata returns the index record metadata.
func (t *Ticket) Metadata(info *DashboardInfo) map[string]any {
	m := map[string]any{
		"ticket_id":          t.TicketID,
		"subject":            t.Subject,
		"category":           t.Category,
		"priority":           t.Priority,
		"status":             t.Status,
		"assigned_to":        t.AssignedTo,
		"requester_name":     t.Requester.Name,
		"requester_email":    t.Requester.Email,
		"date_reported":      t.DateReported,
		"ingestion_date":     info.Date,
		"ingestion_time":     info.Time,
		"is_resolved":        t.Status == "Resolved",
		"has_resolution":     t.Resolution != nil,
		"has_next_steps":     t.NextSteps != nil,
		"description_length": utf8.RuneCountInString(t.UserDescription),
		"update_count":       len(t.UpdateHistory),
		"source":             Source,
		"location":           info.Location,
		"text":               t.Text(),
	}
	if t.Resolution != nil && *t.Resolution != "" {
		m["resolution_summary"] = truncateRunes(*t.Resolution, maxResolutionSummary)
	}
	return m
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
