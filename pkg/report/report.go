// Package report turns upstream analysis text into report sections and
// assembles the final ReportData.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/infralens/infralens/pkg/apierr"
	"github.com/infralens/infralens/pkg/models"
)

// ErrNoStructuredBlock is returned when the text contains no JSON object.
var ErrNoStructuredBlock = errors.New("report: no structured block in analysis")

// Parse extracts and decodes the structured assessment from text. Errors are
// classified as upstream format errors.
func Parse(text string) (models.Assessment, error) {
	raw := ExtractJSON(text)
	if raw == "" {
		return models.Assessment{}, apierr.Wrap(apierr.KindUpstreamFormat, "parse", ErrNoStructuredBlock)
	}
	var a models.Assessment
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &a); err != nil {
		return models.Assessment{}, apierr.Wrap(apierr.KindUpstreamFormat, "parse", fmt.Errorf("decode assessment: %w", err))
	}
	if strings.TrimSpace(a.CostEstimation.Total) == "" && strings.TrimSpace(a.RepairDescription.CurrentState) == "" {
		return models.Assessment{}, apierr.New(apierr.KindUpstreamFormat, "parse", "assessment has neither current state nor cost total")
	}
	return a, nil
}

// Fallback builds the fixed assessment used when the analysis text cannot be
// parsed. The raw text is kept verbatim as the current state.
func Fallback(raw string) models.Assessment {
	return models.Assessment{
		RepairDescription: models.RepairDescription{
			CurrentState: raw,
			RepairSteps: []string{
				"Conduct a detailed on-site structural inspection",
				"Prepare the damaged area and remove loose material",
				"Carry out repairs per the applicable IS codes",
				"Cure, inspect and certify the repaired section",
			},
			Materials: []string{
				"Repair mortar / concrete as specified by the site engineer",
				"Reinforcement steel where exposed or corroded",
			},
			SafetyMeasures: []string{
				"Barricade the work zone and divert traffic",
				"Provide PPE to all workers on site",
			},
		},
		CostEstimation: models.CostEstimation{
			Total: "₹2,50,000 INR (indicative)",
			Breakdown: models.CostBreakdown{
				Materials:       "₹1,00,000 INR",
				Labor:           "₹80,000 INR",
				Permits:         "₹30,000 INR",
				SafetyEquipment: "₹40,000 INR",
			},
		},
		Timeline: models.Timeline{
			EstimatedDuration: "4-6 weeks",
			Phases: []string{
				"Inspection and planning (1 week)",
				"Site preparation (1 week)",
				"Repair works (2-3 weeks)",
				"Curing, inspection and handover (1 week)",
			},
		},
	}
}

// ParseOrFallback parses text and degrades to Fallback on any error. The
// second result reports whether the fallback was used and the third why.
func ParseOrFallback(text string) (models.Assessment, bool, error) {
	a, err := Parse(text)
	if err != nil {
		return Fallback(text), true, err
	}
	return a, false, nil
}

// Assemble builds the final report.
func Assemble(a models.Assessment, imageRef string) (*models.ReportData, error) {
	desc, err := json.Marshal(a.RepairDescription)
	if err != nil {
		return nil, fmt.Errorf("report: encode repair description: %w", err)
	}
	phases := make([]string, len(a.Timeline.Phases))
	copy(phases, a.Timeline.Phases)
	return &models.ReportData{
		RepairedImageRef:  imageRef,
		RepairDescription: string(desc),
		CostEstimation:    a.CostEstimation,
		Timeline: models.Timeline{
			EstimatedDuration: a.Timeline.EstimatedDuration,
			Phases:            phases,
		},
	}, nil
}

// DecodeDescription reverses the serialization done by Assemble.
func DecodeDescription(r *models.ReportData) (models.RepairDescription, error) {
	var d models.RepairDescription
	if err := json.Unmarshal([]byte(r.RepairDescription), &d); err != nil {
		return models.RepairDescription{}, fmt.Errorf("report: decode repair description: %w", err)
	}
	return d, nil
}
