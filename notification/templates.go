package notification

import (
	"bytes"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"fmt"
	"html/template"
	"strings"
)

// Rendered is a notification ready to hand to the mail transport.
type Rendered struct {
	To      string
	Subject string
	HTML    string
}

type Template struct {
	subject func(data event.NotificationData) string
	body    *template.Template
}

const layout = `<!DOCTYPE html><html><body style="font-family:sans-serif">{{template "content" .}}</body></html>`

func newTemplate(subject func(event.NotificationData) string, content string) Template {
	body := template.Must(template.New("layout").Parse(layout))
	template.Must(body.New("content").Parse(content))
	return Template{subject: subject, body: body}
}

var templates = map[event.Type]Template{
	event.BookingConfirmation: newTemplate(
		func(event.NotificationData) string { return "Your booking is confirmed" },
		`<p>Hello {{.Names.Recipient}},</p><p>Your booking{{with .Names.Sender}} with {{.}}{{end}} is confirmed{{with .Dates}} from {{.Start.Format "2006-01-02"}}{{end}}.</p>{{with .ServiceFee}}<p>Service fee: {{printf "%.2f" .}}</p>{{end}}`,
	),
	event.BookingReminder: newTemplate(
		func(event.NotificationData) string { return "Reminder: upcoming booking" },
		`<p>Hello {{.Names.Recipient}},</p><p>This is a reminder of your booking{{with .Dates}} on {{.Start.Format "2006-01-02 15:04"}}{{end}}.</p>`,
	),
	event.BookingModification: newTemplate(
		func(event.NotificationData) string { return "Your booking was modified" },
		`<p>Hello {{.Names.Recipient}},</p><p>Your booking{{with .Names.Sender}} with {{.}}{{end}} has been modified.</p>{{with .Dates}}<p>New dates: {{.Start.Format "2006-01-02"}}</p>{{end}}`,
	),
	event.MessageOrReview: newTemplate(
		func(data event.NotificationData) string {
			if data.ReviewData != nil {
				return "You received a new review"
			}
			if data.Names.Sender != "" {
				return fmt.Sprintf("New message from %s", data.Names.Sender)
			}
			return "You have a new message"
		},
		`<p>Hello {{.Names.Recipient}},</p>{{with .Message}}<p>You have an unread message:</p><blockquote>{{.Content}}</blockquote>{{end}}{{with .ReviewData}}<p>Rating: {{.Rating}}/5</p>{{with .Comment}}<blockquote>{{.}}</blockquote>{{end}}{{end}}`,
	),
	event.Other: newTemplate(
		func(data event.NotificationData) string {
			if subject := data.Metadata["subject"]; subject != "" {
				return subject
			}
			return "Notification"
		},
		`<p>Hello {{.Names.Recipient}},</p>{{with index .Metadata "body"}}<p>{{.}}</p>{{else}}<p>You have a new notification.</p>{{end}}`,
	),
}

// Render picks the template of the notification type. It has no side effect.
func Render(n event.Notification) (Rendered, error) {
	to := strings.TrimSpace(n.Data.Addresses.Recipient)
	if to == "" {
		return Rendered{}, fmt.Errorf("%w: notification without recipient address", errors.ErrValidation)
	}
	tpl, ok := templates[n.Type]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: no template for notification type %q", errors.ErrValidation, n.Type)
	}
	var buf bytes.Buffer
	if err := tpl.body.Execute(&buf, n.Data); err != nil {
		return Rendered{}, fmt.Errorf("%w: render %s: %v", errors.ErrInternal, n.Type, err)
	}
	return Rendered{To: to, Subject: tpl.subject(n.Data), HTML: buf.String()}, nil
}
