package spectroscopy

import (
	"fmt"
	"sort"
	"strconv"

	"labos/pkg/moduleapi"
)

// band is one row of the IR correlation table: a wavenumber window in
// cm⁻¹, the functional group it suggests, and interpretation guidance.
type band struct {
	min   float64
	max   float64
	group string
	note  string
}

// correlationTable covers the diagnostic IR regions. Windows overlap;
// a peak collects every assignment whose window contains it.
var correlationTable = []band{
	{3200, 3650, "O-H (alcohol)", "strong, broad alcohol hydroxyl stretch"},
	{2500, 3300, "O-H (carboxylic acid)", "very broad carboxylic acid hydroxyl stretch"},

	{3300, 3500, "N-H (amine, primary)", "medium, sharp doublet of a primary amine"},
	{3250, 3400, "N-H (amine, secondary)", "medium, sharp singlet of a secondary amine"},
	{3100, 3400, "N-H (amide)", "medium amide N-H stretch"},

	{2850, 3000, "C-H (alkane)", "medium to strong aliphatic C-H stretch"},
	{3000, 3100, "C-H (alkene)", "medium vinyl C-H stretch"},
	{3260, 3330, "C-H (alkyne)", "strong, sharp terminal alkyne C-H stretch"},
	{2700, 2850, "C-H (aldehyde)", "medium aldehydic C-H doublet"},
	{3000, 3150, "C-H (aromatic)", "medium aromatic C-H stretch"},

	{2100, 2260, "C≡C (alkyne)", "weak to medium alkyne stretch"},
	{2210, 2260, "C≡N (nitrile)", "medium, sharp nitrile stretch"},

	{1680, 1750, "C=O (ketone)", "strong, sharp ketone carbonyl stretch"},
	{1720, 1740, "C=O (aldehyde)", "strong, sharp aldehyde carbonyl stretch"},
	{1735, 1750, "C=O (ester)", "strong, sharp ester carbonyl stretch"},
	{1650, 1690, "C=O (amide)", "strong amide I band"},
	{1700, 1725, "C=O (carboxylic acid)", "strong carboxylic acid carbonyl stretch"},
	{1760, 1815, "C=O (acyl chloride)", "strong acyl chloride carbonyl stretch"},
	{1800, 1870, "C=O (anhydride)", "strong anhydride carbonyl doublet"},

	{1620, 1680, "C=C (alkene)", "variable alkene stretch"},
	{1450, 1650, "C=C (aromatic)", "variable aromatic ring stretch"},

	{1550, 1650, "N-H (amide II)", "medium to strong amide II bend"},

	{1000, 1300, "C-O (alcohol/ether)", "strong C-O stretch"},
	{1050, 1150, "C-O (ester)", "strong ester C-O doublet"},
	{1250, 1300, "C-O (carboxylic acid)", "strong carboxylic acid C-O stretch"},

	{1020, 1250, "C-N (amine)", "medium amine C-N stretch"},
	{1180, 1360, "C-N (amide III)", "medium amide III band"},

	{700, 800, "C-Cl", "strong carbon-chlorine stretch"},
	{500, 600, "C-Br / C-I", "strong carbon-halogen stretch"},

	{650, 900, "aromatic C-H bend", "strong out-of-plane aromatic bend"},
}

// Intensity classes on the 0-1 relative absorbance scale.
const (
	veryStrongThreshold = 0.8
	strongThreshold     = 0.6
	mediumThreshold     = 0.4
	weakThreshold       = 0.2
)

// broadWidth is the full width at half maximum, in cm⁻¹, above which a
// peak is flagged broad.
const broadWidth = 150.0

const defaultThreshold = 0.3

type point struct {
	wavenumber float64
	intensity  float64
}

// Peak is one annotated spectral peak in the analysis output.
type Peak struct {
	Wavenumber  float64  `json:"wavenumber_cm_1"`
	Intensity   float64  `json:"intensity"`
	Assignments []string `json:"assignments"`
	PeakType    string   `json:"peak_type"`
	Broad       bool     `json:"broad"`
}

func classifyIntensity(intensity float64) string {
	switch {
	case intensity >= veryStrongThreshold:
		return "very strong"
	case intensity >= strongThreshold:
		return "strong"
	case intensity >= mediumThreshold:
		return "medium"
	case intensity >= weakThreshold:
		return "weak"
	default:
		return "very weak"
	}
}

// isBroad estimates peak breadth from the half-maximum crossings on
// either side of the peak index.
func isBroad(spectrum []point, idx int) bool {
	if idx <= 0 || idx >= len(spectrum)-1 {
		return false
	}
	halfMax := spectrum[idx].intensity / 2
	left := spectrum[idx].wavenumber
	for i := idx - 1; i >= 0; i-- {
		if spectrum[i].intensity < halfMax {
			left = spectrum[i].wavenumber
			break
		}
	}
	right := spectrum[idx].wavenumber
	for i := idx + 1; i < len(spectrum); i++ {
		if spectrum[i].intensity < halfMax {
			right = spectrum[i].wavenumber
			break
		}
	}
	return right-left > broadWidth
}

func annotatePeak(spectrum []point, idx int) Peak {
	p := spectrum[idx]
	var assignments []string
	for _, b := range correlationTable {
		if p.wavenumber >= b.min && p.wavenumber <= b.max {
			assignments = append(assignments, b.group+": "+b.note)
		}
	}
	if len(assignments) == 0 {
		assignments = []string{"no specific functional group assignment"}
	}
	broad := isBroad(spectrum, idx)
	peakType := classifyIntensity(p.intensity)
	if broad {
		peakType += ", broad"
	}
	return Peak{
		Wavenumber:  p.wavenumber,
		Intensity:   p.intensity,
		Assignments: assignments,
		PeakType:    peakType,
		Broad:       broad,
	}
}

// parseSpectrum accepts either a list of [wavenumber, intensity] pairs
// or a column mapping {"wavenumber": [...], "absorbance": [...]}.
func parseSpectrum(params moduleapi.Params) ([]point, error) {
	raw, ok := params["spectrum"]
	if !ok {
		return nil, fmt.Errorf("spectrum parameter required")
	}
	switch v := raw.(type) {
	case []any:
		points := make([]point, 0, len(v))
		for i, entry := range v {
			pair, ok := entry.([]any)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("spectrum entry %d: want [wavenumber, intensity] pair", i)
			}
			wn, okW := toFloat(pair[0])
			in, okI := toFloat(pair[1])
			if !okW || !okI {
				return nil, fmt.Errorf("spectrum entry %d: non-numeric value", i)
			}
			points = append(points, point{wavenumber: wn, intensity: in})
		}
		return points, nil
	case map[string]any:
		wavenumbers, okW := v["wavenumber"].([]any)
		intensities, okI := v["absorbance"].([]any)
		if !okW || !okI {
			return nil, fmt.Errorf("spectrum mapping needs wavenumber and absorbance columns")
		}
		if len(wavenumbers) != len(intensities) {
			return nil, fmt.Errorf("spectrum columns differ in length: %d vs %d", len(wavenumbers), len(intensities))
		}
		points := make([]point, 0, len(wavenumbers))
		for i := range wavenumbers {
			wn, okW := toFloat(wavenumbers[i])
			in, okI := toFloat(intensities[i])
			if !okW || !okI {
				return nil, fmt.Errorf("spectrum column entry %d: non-numeric value", i)
			}
			points = append(points, point{wavenumber: wn, intensity: in})
		}
		return points, nil
	default:
		return nil, fmt.Errorf("spectrum must be a pair list or column mapping")
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// analyzeSpectrum annotates every peak above threshold. With peak
// detection on (the default) only local maxima count; otherwise every
// point above threshold is reported.
func analyzeSpectrum(spectrum []point, threshold float64, detectPeaks bool) []Peak {
	sorted := make([]point, len(spectrum))
	copy(sorted, spectrum)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].wavenumber < sorted[j].wavenumber })

	var peaks []Peak
	if detectPeaks {
		for i := 1; i < len(sorted)-1; i++ {
			p := sorted[i]
			if p.intensity >= threshold && p.intensity > sorted[i-1].intensity && p.intensity > sorted[i+1].intensity {
				peaks = append(peaks, annotatePeak(sorted, i))
			}
		}
	} else {
		for i, p := range sorted {
			if p.intensity >= threshold {
				peaks = append(peaks, annotatePeak(sorted, i))
			}
		}
	}
	return peaks
}

func summarizeGroups(peaks []Peak) map[string][]float64 {
	summary := make(map[string][]float64)
	for _, p := range peaks {
		for _, assignment := range p.Assignments {
			name := assignment
			for i := 0; i < len(assignment); i++ {
				if assignment[i] == ':' {
					name = assignment[:i]
					break
				}
			}
			summary[name] = append(summary[name], p.Wavenumber)
		}
	}
	return summary
}

func interpretationNotes(peaks []Peak, threshold float64) []string {
	if len(peaks) == 0 {
		return []string{"no significant peaks detected above threshold"}
	}
	notes := []string{
		fmt.Sprintf("detected %d significant peaks above threshold %s", len(peaks), strconv.FormatFloat(threshold, 'g', -1, 64)),
	}
	var hasCarbonyl, hasBroadOH, hasNH bool
	for _, p := range peaks {
		if p.Wavenumber >= 1650 && p.Wavenumber <= 1850 {
			hasCarbonyl = true
		}
		if p.Wavenumber >= 2500 && p.Wavenumber <= 3650 && p.Broad {
			hasBroadOH = true
		}
		if p.Wavenumber >= 3100 && p.Wavenumber <= 3500 {
			hasNH = true
		}
	}
	if hasCarbonyl {
		notes = append(notes, "carbonyl region absorption suggests a C=O group")
	}
	if hasBroadOH {
		notes = append(notes, "broad O-H stretch suggests an alcohol or carboxylic acid")
	}
	if hasNH {
		notes = append(notes, "N-H region absorption suggests an amine or amide")
	}
	return notes
}
