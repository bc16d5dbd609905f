package reports

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sentryhq/ueba/internal/models"
	"github.com/sentryhq/ueba/internal/risk"
	"github.com/sentryhq/ueba/internal/threat"
)

// Source provides the data a report is built from.
type Source interface {
	Summary(ctx context.Context) (*models.DashboardSummary, error)
	ListAlerts(ctx context.Context, filter threat.AlertFilter) ([]models.Alert, error)
	ListIncidents(ctx context.Context, filter threat.IncidentFilter) ([]models.Incident, error)
}

// Generator produces threat summary reports.
type Generator struct {
	source Source
	logger *slog.Logger
}

func NewGenerator(source Source, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		source: source,
		logger: logger,
	}
}

// ThreatSummaryPDF renders a fleet-wide threat posture report.
func (g *Generator) ThreatSummaryPDF(ctx context.Context, title string) ([]byte, error) {
	if title == "" {
		title = "Insider Threat Summary"
	}

	summary, err := g.source.Summary(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading summary: %w", err)
	}

	alerts, err := g.source.ListAlerts(ctx, threat.AlertFilter{Limit: 25})
	if err != nil {
		return nil, fmt.Errorf("loading alerts: %w", err)
	}

	incidents, err := g.source.ListIncidents(ctx, threat.IncidentFilter{Limit: 25})
	if err != nil {
		return nil, fmt.Errorf("loading incidents: %w", err)
	}

	pdf := NewPDFReport(title)

	pdf.AddSection("Threat Posture Summary")

	metrics := []struct {
		label string
		value int
		color []int
	}{
		{"Total Users", summary.TotalUsers, []int{66, 133, 244}},
		{"High Risk Users", summary.HighRiskUsers, []int{220, 53, 69}},
		{"Open Alerts", summary.OpenAlerts, []int{253, 126, 20}},
		{"Open Incidents", summary.OpenIncidents, []int{108, 117, 125}},
	}

	boxWidth := 42.0
	for i, m := range metrics {
		x := 15 + float64(i)*boxWidth + float64(i)*5
		pdf.pdf.SetFillColor(m.color[0], m.color[1], m.color[2])
		pdf.pdf.Rect(x, pdf.pdf.GetY(), boxWidth, 25, "F")

		pdf.pdf.SetXY(x, pdf.pdf.GetY()+3)
		pdf.pdf.SetFont("Arial", "B", 18)
		pdf.pdf.SetTextColor(255, 255, 255)
		pdf.pdf.CellFormat(boxWidth, 10, fmt.Sprintf("%d", m.value), "", 0, "C", false, 0, "")

		pdf.pdf.SetXY(x, pdf.pdf.GetY()+12)
		pdf.pdf.SetFont("Arial", "", 9)
		pdf.pdf.CellFormat(boxWidth, 8, m.label, "", 0, "C", false, 0, "")
	}

	pdf.pdf.Ln(35)

	pdf.AddParagraph(fmt.Sprintf("Average insider threat score across monitored users: %.1f/100.", summary.AvgITSScore))

	pdf.pdf.SetFont("Arial", "", 10)
	pdf.pdf.SetTextColor(33, 37, 41)
	pdf.pdf.CellFormat(25, 6, "Fleet risk:", "", 0, "L", false, 0, "")
	pdf.AddRiskIndicator(string(risk.Classify(summary.AvgITSScore)))
	pdf.pdf.Ln(10)

	pdf.AddSection("Alerts by Risk Level")
	pdf.AddChart("", map[string]int{
		"Critical": summary.AlertsByRisk[models.RiskCritical],
		"High":     summary.AlertsByRisk[models.RiskHigh],
		"Medium":   summary.AlertsByRisk[models.RiskMedium],
		"Low":      summary.AlertsByRisk[models.RiskLow],
	})

	if len(alerts) > 0 {
		pdf.AddSection(fmt.Sprintf("Recent Alerts (%d)", len(alerts)))

		headers := []string{"User", "ITS Score", "Risk", "Status", "Time"}
		rows := make([][]string, 0, len(alerts))
		for _, a := range alerts {
			rows = append(rows, []string{
				truncate(a.UserID, 20),
				fmt.Sprintf("%.1f", a.ITSScore),
				string(a.RiskLevel),
				string(a.Status),
				a.Timestamp.Format("Jan 2 15:04"),
			})
		}
		pdf.AddTable(headers, rows)
	}

	if len(incidents) > 0 {
		pdf.AddSection(fmt.Sprintf("Incidents (%d)", len(incidents)))

		headers := []string{"User", "Severity", "Status", "Description", "Opened"}
		rows := make([][]string, 0, len(incidents))
		for _, inc := range incidents {
			rows = append(rows, []string{
				truncate(inc.UserID, 20),
				string(inc.Severity),
				string(inc.Status),
				truncate(inc.Description, 35),
				inc.CreatedAt.Format("Jan 2 15:04"),
			})
		}
		pdf.AddTable(headers, rows)
	}

	g.logger.Info("report generated",
		"alerts", len(alerts),
		"incidents", len(incidents))

	return pdf.Output()
}
