// Package resolver classifies decoded payloads into check-in tickets,
// resource links, emergency contacts and plain text.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"checkin-go/internal/scanner"
)

var (
	ErrMalformedTicket = errors.New("malformed check-in ticket")
	ErrMissingEventID  = errors.New("check-in ticket has no event id")
)

// ticket is the JSON form printed on platform-issued passes.
type ticket struct {
	Type        string `json:"type"`
	EventID     string `json:"event_id"`
	Token       string `json:"token"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Date        string `json:"date"`
}

// PayloadResolver recognizes:
//
//	{"type":"event-checkin","event_id":...}      JSON ticket
//	checkin://event/<id>?token=..&title=..       ticket URI
//	https://<host>/events/<id>/checkin?token=..  ticket link
//	tel:<number>                                 emergency contact
//	http(s)://...                                resource link
//
// Anything else is plain text.
type PayloadResolver struct {
	checkinHosts []string
}

var _ scanner.Resolver = (*PayloadResolver)(nil)

// New creates a resolver. When hosts are given, only web links on those
// hosts are treated as ticket links.
func New(hosts ...string) *PayloadResolver {
	return &PayloadResolver{checkinHosts: hosts}
}

func (r *PayloadResolver) Resolve(_ context.Context, payload scanner.RawPayload) (scanner.Resolution, error) {
	text := strings.TrimSpace(string(payload))

	if strings.HasPrefix(text, "{") {
		return resolveTicket(text)
	}

	u, err := url.Parse(text)
	if err != nil || u.Scheme == "" {
		return scanner.Resolution{Kind: scanner.KindText}, nil
	}

	switch strings.ToLower(u.Scheme) {
	case "checkin":
		if u.Host != "event" {
			return scanner.Resolution{}, fmt.Errorf("%w: unknown checkin target %q", ErrMalformedTicket, u.Host)
		}
		return resolveTicketURL(u, strings.Trim(u.Path, "/"), "")
	case "tel":
		number := u.Opaque
		if number == "" {
			number = strings.TrimPrefix(text, u.Scheme+":")
		}
		return scanner.Resolution{
			Kind:        scanner.KindEmergencyContact,
			Title:       "Emergency contact",
			Description: number,
			Target:      text,
		}, nil
	case "http", "https":
		if id, ok := r.checkinPath(u); ok {
			return resolveTicketURL(u, id, text)
		}
		return scanner.Resolution{
			Kind:   scanner.KindResourceLink,
			Title:  u.Hostname(),
			Target: text,
		}, nil
	default:
		return scanner.Resolution{Kind: scanner.KindText}, nil
	}
}

// checkinPath matches /events/<id>/checkin.
func (r *PayloadResolver) checkinPath(u *url.URL) (string, bool) {
	if len(r.checkinHosts) > 0 && !slices.Contains(r.checkinHosts, u.Hostname()) {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 3 && parts[0] == "events" && parts[1] != "" && parts[2] == "checkin" {
		return parts[1], true
	}
	return "", false
}

func resolveTicket(text string) (scanner.Resolution, error) {
	var t ticket
	if err := json.Unmarshal([]byte(text), &t); err != nil {
		return scanner.Resolution{}, fmt.Errorf("%w: %v", ErrMalformedTicket, err)
	}
	switch t.Type {
	case "event-checkin", "checkin":
	default:
		return scanner.Resolution{Kind: scanner.KindText, Title: t.Title}, nil
	}
	if t.EventID == "" {
		return scanner.Resolution{}, ErrMissingEventID
	}
	return scanner.Resolution{
		Kind:        scanner.KindEventCheckin,
		Title:       t.Title,
		Description: t.Description,
		Location:    t.Location,
		Date:        t.Date,
		EventID:     t.EventID,
		Token:       t.Token,
	}, nil
}

func resolveTicketURL(u *url.URL, eventID, target string) (scanner.Resolution, error) {
	if eventID == "" || strings.Contains(eventID, "/") {
		return scanner.Resolution{}, ErrMissingEventID
	}
	q := u.Query()
	return scanner.Resolution{
		Kind:        scanner.KindEventCheckin,
		Title:       q.Get("title"),
		Description: q.Get("description"),
		Location:    q.Get("location"),
		Date:        q.Get("date"),
		Target:      target,
		EventID:     eventID,
		Token:       q.Get("token"),
	}, nil
}
