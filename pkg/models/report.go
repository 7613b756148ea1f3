package models

// CostBreakdown splits a cost estimate into its line items. Values are
// free-form currency strings exactly as produced by the assessment.
type CostBreakdown struct {
	Materials       string `json:"materials"`
	Labor           string `json:"labor"`
	Permits         string `json:"permits"`
	SafetyEquipment string `json:"safety_equipment"`
}

// CostEstimation is the cost section of a report.
type CostEstimation struct {
	Total     string        `json:"total"`
	Breakdown CostBreakdown `json:"breakdown"`
}

// Timeline is the schedule section of a report.
type Timeline struct {
	EstimatedDuration string   `json:"estimated_duration"`
	Phases            []string `json:"phases"`
}

// RepairDescription is the structured repair plan. It travels inside
// ReportData in serialized form.
type RepairDescription struct {
	CurrentState   string   `json:"current_state"`
	RepairSteps    []string `json:"repair_steps"`
	Materials      []string `json:"materials_required"`
	SafetyMeasures []string `json:"safety_measures"`
}

// ReportData is the terminal artifact of a successful run.
type ReportData struct {
	RepairedImageRef  string         `json:"repaired_image_ref"`
	RepairDescription string         `json:"repair_description"`
	CostEstimation    CostEstimation `json:"cost_estimation"`
	Timeline          Timeline       `json:"timeline"`
}

// Assessment is the parsed structured analysis returned by the upstream model.
type Assessment struct {
	RepairDescription RepairDescription `json:"repair_description"`
	CostEstimation    CostEstimation    `json:"cost_estimation"`
	Timeline          Timeline          `json:"timeline"`
}
