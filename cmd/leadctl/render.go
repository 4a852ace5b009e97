package main

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/leadflow/internal/conversation"
	httpserver "github.com/fyrsmithlabs/leadflow/internal/http"
	"github.com/fyrsmithlabs/leadflow/internal/leads"
	"github.com/fyrsmithlabs/leadflow/internal/notify"
	"github.com/fyrsmithlabs/leadflow/internal/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("51"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("46")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

const timeLayout = "2006-01-02 15:04:05 MST"

// statusStyle colors a state word by how healthy it is.
func statusStyle(s string) lipgloss.Style {
	switch s {
	case "ok", "closed", string(session.StateCompleted), string(notify.DeliveryDelivered):
		return okStyle
	case "degraded", "half-open", string(session.StateActive), string(notify.DeliveryPending):
		return warnStyle
	default:
		return errStyle
	}
}

func field(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-14s", label+":")), value)
}

func renderHealth(h httpserver.HealthResponse) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("leadflow") + " " + statusStyle(h.Status).Render(h.Status))
	if h.Version != "" {
		b.WriteString(" " + dimStyle.Render(h.Version))
	}
	b.WriteString("\n")

	names := make([]string, 0, len(h.Services))
	for name := range h.Services {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		field(&b, name, statusStyle(h.Services[name]).Render(h.Services[name]))
	}
	if n := h.Notify; n != nil {
		field(&b, "sink", n.Sink)
		field(&b, "breaker", statusStyle(string(n.Breaker)).Render(string(n.Breaker)))
		field(&b, "queue depth", fmt.Sprint(n.QueueDepth))
	}
	return b.String()
}

func renderSnapshot(s conversation.Snapshot) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("session "+s.SessionID) + "\n")
	field(&b, "state", statusStyle(string(s.State)).Render(string(s.State)))
	field(&b, "confidence", fmt.Sprintf("%.3f", s.ConfidenceScore))
	field(&b, "messages", fmt.Sprint(s.MessageCount))
	field(&b, "created", s.CreatedAt.Format(timeLayout))
	field(&b, "last activity", s.LastActivityAt.Format(timeLayout))
	if s.CompletedAt != nil {
		field(&b, "completed", s.CompletedAt.Format(timeLayout))
	}
	if ec := s.ErrorContext; ec != nil {
		field(&b, "fault", errStyle.Render(string(ec.Kind))+" "+dimStyle.Render(ec.Message))
	}

	if len(s.ExtractedData) > 0 {
		b.WriteString(titleStyle.Render("extracted") + "\n")
		keys := make([]string, 0, len(s.ExtractedData))
		for k := range s.ExtractedData {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			v := s.ExtractedData[k]
			field(&b, k, fmt.Sprintf("%s %s", v.Value, dimStyle.Render(fmt.Sprintf("(%.2f)", v.Confidence))))
		}
	}
	if s.Notification != nil {
		b.WriteString(renderDelivery(*s.Notification))
	}
	return b.String()
}

func renderDelivery(d notify.Delivery) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("notification "+d.CorrelationID) + "\n")
	field(&b, "state", statusStyle(string(d.State)).Render(string(d.State)))
	field(&b, "sink", d.Sink)
	field(&b, "attempts", fmt.Sprint(d.Attempts))
	field(&b, "queued", d.QueuedAt.Format(timeLayout))
	field(&b, "updated", d.UpdatedAt.Format(timeLayout))
	if d.LastError != "" {
		field(&b, "last error", errStyle.Render(d.LastError))
	}
	return b.String()
}

func renderLeads(list []leads.Lead, loc *time.Location) string {
	if len(list) == 0 {
		return dimStyle.Render("no leads archived") + "\n"
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%d lead(s)", len(list))) + "\n")
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPLETED\tNAME\tPHONE\tAREA\tURGENCY\tSESSION")
	for _, l := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.CompletedAt.In(loc).Format(timeLayout), l.Name, l.Phone,
			orDash(l.LegalArea), orDash(l.Urgency), l.SessionID)
	}
	_ = w.Flush()
	return b.String()
}

func renderFailures(list []leads.Failure, loc *time.Location) string {
	if len(list) == 0 {
		return dimStyle.Render("no failed notifications") + "\n"
	}
	var b strings.Builder
	b.WriteString(errStyle.Render(fmt.Sprintf("%d failed notification(s)", len(list))) + "\n")
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FAILED\tCORRELATION\tSINK\tATTEMPTS\tERROR")
	for _, f := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			f.FailedAt.In(loc).Format(timeLayout), f.CorrelationID, f.Sink, f.Attempts, f.LastError)
	}
	_ = w.Flush()
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
