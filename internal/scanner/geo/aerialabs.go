package geo

import "fmt"

// AbsoluteEligibility gates absolute-accuracy claims for aerial scans on
// georegistration residuals.
type AbsoluteEligibility struct {
	AbsEligible        bool     `json:"abs_eligible"`
	ClaimLevelAbsolute string   `json:"claim_level_absolute"`
	Reason             string   `json:"reason"`
	RelEligible        bool     `json:"rel_eligible"`
	GeoregSolved       bool     `json:"georeg_solved"`
	RMSEM              *float64 `json:"rmse_m"`
	MaxRMSEM           float64  `json:"max_rmse_m"`
}

// EvaluateAerialAbs decides whether an aerial run may claim absolute
// accuracy. The claim level stays UNVERIFIED in every case; eligibility
// only records whether the georegistration evidence would support a
// future claim.
func EvaluateAerialAbs(relEligible, georegSolved bool, rmseM *float64, maxRMSEM float64) AbsoluteEligibility {
	out := AbsoluteEligibility{
		ClaimLevelAbsolute: "UNVERIFIED",
		RelEligible:        relEligible,
		GeoregSolved:       georegSolved,
		RMSEM:              rmseM,
		MaxRMSEM:           maxRMSEM,
	}
	switch {
	case !relEligible:
		out.Reason = "REL not eligible"
	case !georegSolved:
		out.Reason = "georegistration not solved"
	case rmseM == nil:
		out.Reason = "missing RMSE"
	case *rmseM > maxRMSEM:
		out.Reason = fmt.Sprintf("RMSE %.4f exceeds threshold", *rmseM)
	default:
		out.AbsEligible = true
		out.Reason = "georeg RMSE within threshold"
	}
	return out
}
