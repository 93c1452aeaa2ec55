package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"enrollment-service/internal/models"
)

var emailTemplate = template.Must(template.New("notification").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body>
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <p style="color: #333;">Hi {{.Name}},</p>
  <h2 style="color: #333;">{{.Title}}</h2>
  <p style="color: #666; line-height: 1.6;">{{.Message}}</p>
  <div style="text-align: center; margin: 20px 0;">
    <a href="{{.Action.URL}}" style="background-color: {{.Action.Background}}; color: {{.Action.Foreground}}; padding: 10px 20px; text-decoration: none; border-radius: 5px;">{{.Action.Label}}</a>
  </div>
  <hr style="border: 1px solid #eee; margin: 20px 0;">
  <p style="color: #999; font-size: 12px;">This is an automated notification from NextByte Learning Platform.</p>
</div>
</body>
</html>
`))

type action struct {
	Path       string
	Label      string
	Background template.CSS
	Foreground template.CSS
	URL        string
}

var actions = map[string]action{
	models.NotificationAssignmentFeedback:   {Path: "/assignments", Label: "View Assignment", Background: "#007bff", Foreground: "white"},
	models.NotificationEnrollmentActivated:  {Path: "/courses", Label: "Start Learning", Background: "#28a745", Foreground: "white"},
	models.NotificationModuleAvailable:      {Path: "/courses", Label: "Open Course", Background: "#28a745", Foreground: "white"},
	models.NotificationCertificateGenerated: {Path: "/certificates", Label: "View Certificate", Background: "#ffc107", Foreground: "#212529"},
	models.NotificationCourseCompleted:      {Path: "/certificates", Label: "View Certificate", Background: "#ffc107", Foreground: "#212529"},
	models.NotificationPaymentSuccess:       {Path: "/dashboard", Label: "Go to Dashboard", Background: "#28a745", Foreground: "white"},
	models.NotificationPaymentFailed:        {Path: "/courses", Label: "Try Again", Background: "#dc3545", Foreground: "white"},
}

var defaultAction = action{Path: "/notifications", Label: "View All Notifications", Background: "#6c757d", Foreground: "white"}

// Renderer turns outbox deliveries into email messages
type Renderer struct {
	appURL string
}

// NewRenderer creates a renderer whose call-to-action links point at appURL
func NewRenderer(appURL string) *Renderer {
	return &Renderer{appURL: strings.TrimRight(appURL, "/")}
}

// Render builds the email for a leased outbox delivery
func (r *Renderer) Render(d models.OutboxDelivery) (Message, error) {
	act, ok := actions[d.Type]
	if !ok {
		act = defaultAction
	}
	act.URL = r.appURL + act.Path

	name := d.RecipientName
	if name == "" {
		name = "there"
	}

	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct {
		Name    string
		Title   string
		Message string
		Action  action
	}{name, d.Title, d.Message, act})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render email for notification %d: %w", d.NotificationID, err)
	}

	return Message{To: d.RecipientEmail, Subject: d.Title, HTML: buf.String()}, nil
}
