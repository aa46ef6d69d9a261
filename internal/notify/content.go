package notify

import (
	"bytes"
	htmltemplate "html/template"
	"strconv"
	"strings"
	"text/template"
)

// Content is the rendered payload shared by both channels.
type Content struct {
	Subject   string
	HTMLBody  string
	EmailText string
	Text      string // messaging body
	Metadata  map[string]string
}

var funcs = template.FuncMap{"clp": formatCLP}

var (
	subjectTmpl = template.Must(template.New("subject").Parse(
		`Nueva reserva confirmada: {{.Patient.Name}} - {{.Appointment.DateTime}}`))

	emailTextTmpl = template.Must(template.New("email_text").Funcs(funcs).Parse(
		`Hola {{.Doctor.Name}},

Tienes una nueva reserva pagada y confirmada en {{.ClinicName}}.

Paciente: {{.Patient.Name}}{{with .Patient.Rut}}
RUT: {{.}}{{end}}{{with .Patient.Age}}
Edad: {{.}} años{{end}}{{with .Patient.Phone}}
Teléfono: {{.}}{{end}}{{with .Patient.Email}}
Email: {{.}}{{end}}
Especialidad: {{.Specialty}}
Fecha y hora: {{.Appointment.DateTime}}
Monto pagado: {{clp .PricePaid}}{{with .Notes}}
Notas: {{.}}{{end}}{{with .BookingURL}}

Ver reserva: {{.}}{{end}}

Reserva {{.BookingID}}
`))

	messagingTmpl = template.Must(template.New("messaging").Funcs(funcs).Parse(
		`Nueva reserva en {{.ClinicName}}
Paciente: {{.Patient.Name}}{{with .Patient.Age}} ({{.}} años){{end}}
{{.Specialty}} - {{.Appointment.DateTime}}
Pagado: {{clp .PricePaid}}{{with .Notes}}
Notas: {{.}}{{end}}{{with .BookingURL}}
{{.}}{{end}}`))

	htmlTmpl = htmltemplate.Must(htmltemplate.New("email_html").Funcs(htmltemplate.FuncMap{"clp": formatCLP}).Parse(
		`<!DOCTYPE html>
<html lang="es">
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <h2>Nueva reserva confirmada</h2>
  <p>Hola {{.Doctor.Name}}, tienes una nueva reserva pagada en <strong>{{.ClinicName}}</strong>.</p>
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><td><strong>Paciente</strong></td><td>{{.Patient.Name}}</td></tr>
    {{- with .Patient.Rut}}
    <tr><td><strong>RUT</strong></td><td>{{.}}</td></tr>
    {{- end}}
    {{- with .Patient.Age}}
    <tr><td><strong>Edad</strong></td><td>{{.}} años</td></tr>
    {{- end}}
    {{- with .Patient.Phone}}
    <tr><td><strong>Teléfono</strong></td><td>{{.}}</td></tr>
    {{- end}}
    {{- with .Patient.Email}}
    <tr><td><strong>Email</strong></td><td>{{.}}</td></tr>
    {{- end}}
    <tr><td><strong>Especialidad</strong></td><td>{{.Specialty}}</td></tr>
    <tr><td><strong>Fecha y hora</strong></td><td>{{.Appointment.DateTime}}</td></tr>
    <tr><td><strong>Monto pagado</strong></td><td>{{clp .PricePaid}}</td></tr>
    {{- with .Notes}}
    <tr><td><strong>Notas</strong></td><td>{{.}}</td></tr>
    {{- end}}
  </table>
  {{- with .BookingURL}}
  <p><a href="{{.}}">Ver reserva</a></p>
  {{- end}}
  <p style="color: #6b7280; font-size: 12px;">Reserva {{.BookingID}}</p>
</body>
</html>
`))
)

// BuildContent renders the subject, bodies and transport metadata for req.
func BuildContent(req NotificationRequest) (Content, error) {
	subject, err := render(subjectTmpl, req)
	if err != nil {
		return Content{}, err
	}
	text, err := render(emailTextTmpl, req)
	if err != nil {
		return Content{}, err
	}
	msg, err := render(messagingTmpl, req)
	if err != nil {
		return Content{}, err
	}

	var html bytes.Buffer
	if err := htmlTmpl.Execute(&html, req); err != nil {
		return Content{}, err
	}

	return Content{
		Subject:   subject,
		HTMLBody:  html.String(),
		EmailText: text,
		Text:      msg,
		Metadata:  metadata(req),
	}, nil
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func metadata(req NotificationRequest) map[string]string {
	md := map[string]string{
		"booking_id": req.BookingID,
		"specialty":  req.Specialty,
		"clinic":     req.ClinicName,
	}
	if req.Appointment.Timezone != "" {
		md["timezone"] = req.Appointment.Timezone
	}
	return md
}

// formatCLP renders whole pesos with dot thousand separators, e.g. $45.000.
func formatCLP(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	return sign + "$" + b.String()
}
