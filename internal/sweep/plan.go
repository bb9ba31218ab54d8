package sweep

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage identifies which enumeration pass an invocation belongs to.
type Stage string

const (
	StageFiducial   Stage = "fiducial"
	StageComparison Stage = "comparison"
)

const (
	// flagOff is the literal boolean flag the analysis program expects.
	flagOff = "F"

	comparisonRunID       = "fid_comp"
	comparisonLabelPrefix = "fiducial_comparisons_face"
)

// Params sizes the sweep.
type Params struct {
	Fiducials       int
	Faces           int
	ComparisonCount int
	Comparisons     bool
}

// DefaultParams is the canonical sweep: Fiducial0..4, three faces each,
// followed by three comparison runs over 10 fiducials.
func DefaultParams() Params {
	return Params{
		Fiducials:       5,
		Faces:           3,
		ComparisonCount: 10,
		Comparisons:     true,
	}
}

// Invocation is one call of the external analysis program.
type Invocation struct {
	// Seq is the zero-based position in the plan.
	Seq   int   `json:"seq"`
	Stage Stage `json:"stage"`

	// Fiducial is -1 for comparison invocations.
	Fiducial int `json:"fiducial"`
	Face     int `json:"face"`

	// Args are the positional arguments passed to the program.
	Args []string `json:"args"`
}

// Label is the output label the program writes under.
func (i Invocation) Label() string {
	if len(i.Args) < 3 {
		return ""
	}
	return i.Args[2]
}

func (i Invocation) String() string {
	return fmt.Sprintf("#%d %s", i.Seq, strings.Join(i.Args, " "))
}

// Plan enumerates the sweep in execution order: the fiducial pass (fiducial
// ascending, face ascending within it) and then the comparison pass (face
// ascending).
func Plan(p Params) []Invocation {
	n := p.Fiducials * p.Faces
	if p.Comparisons {
		n += p.Faces
	}
	plan := make([]Invocation, 0, n)

	for j := 0; j < p.Fiducials; j++ {
		for f := 0; f < p.Faces; f++ {
			plan = append(plan, Invocation{
				Seq:      len(plan),
				Stage:    StageFiducial,
				Fiducial: j,
				Face:     f,
				Args:     fiducialArgs(j, f),
			})
		}
	}

	if p.Comparisons {
		for f := 0; f < p.Faces; f++ {
			plan = append(plan, Invocation{
				Seq:      len(plan),
				Stage:    StageComparison,
				Fiducial: -1,
				Face:     f,
				Args:     comparisonArgs(f, p.ComparisonCount),
			})
		}
	}

	return plan
}

func fiducialArgs(fiducial, face int) []string {
	return []string{
		fmt.Sprintf("Fiducial%d.%d.0", fiducial, face),
		strconv.Itoa(face),
		fmt.Sprintf("fiducial%d.%d", fiducial, face),
		flagOff,
	}
}

func comparisonArgs(face, count int) []string {
	return []string{
		comparisonRunID,
		strconv.Itoa(face),
		comparisonLabelPrefix + strconv.Itoa(face),
		flagOff,
		strconv.Itoa(count),
		flagOff,
	}
}
