package InputParameters

import (
	"fmt"

	"github.com/ghodss/yaml"
	"github.com/go-playground/validator/v10"
)

// Parameters obtained from the YAML input file
type InputParameters2D struct {
	Title           string           `yaml:"Title"`
	Mode            string           `yaml:"Mode" validate:"oneof=steady transient adaptive"`
	Domain          [4]float64       `yaml:"Domain"` // XMin, XMax, YMin, YMax
	NX              int              `yaml:"NX" validate:"min=1"`
	NY              int              `yaml:"NY" validate:"min=1"`
	PolynomialOrder int              `yaml:"PolynomialOrder" validate:"min=0,max=10"`
	Kappa           float64          `yaml:"Kappa" validate:"gte=0"`
	Steepness       float64          `yaml:"Steepness" validate:"gt=0"`
	FinalTime       float64          `yaml:"FinalTime" validate:"gte=0"`
	TimeStep        float64          `yaml:"TimeStep" validate:"gt=0"`
	Workers         int              `yaml:"Workers" validate:"gte=0"`
	Newton          NewtonParameters `yaml:"Newton"`
	LinearSolver    LinearParameters `yaml:"LinearSolver"`
	Adapt           AdaptParameters  `yaml:"Adapt"`
}

type NewtonParameters struct {
	MaxIterations  int     `yaml:"MaxIterations" validate:"min=1"`
	Tolerance      float64 `yaml:"Tolerance" validate:"gt=0"`
	IncrementTol   float64 `yaml:"IncrementTol" validate:"gte=0"`
	RequireAll     bool    `yaml:"RequireAll"`
	Damping        float64 `yaml:"Damping" validate:"gt=0,lte=1"`
	ReuseJacobian  bool    `yaml:"ReuseJacobian"`
	MaxResidual    float64 `yaml:"MaxResidual" validate:"gte=0"`
	ReuseStructure bool    `yaml:"ReuseStructure"`
}

type LinearParameters struct {
	Type           string  `yaml:"Type" validate:"oneof=direct lu iterative"`
	Method         string  `yaml:"Method" validate:"oneof=cg bicgstab gmres"`
	Preconditioner string  `yaml:"Preconditioner" validate:"oneof=none jacobi ilu0 ilu"`
	Tolerance      float64 `yaml:"Tolerance" validate:"gt=0"`
	MaxIterations  int     `yaml:"MaxIterations" validate:"min=1"`
}

type AdaptParameters struct {
	ErrStop       float64 `yaml:"ErrStop" validate:"gt=0"` // percent, as in the usual hp examples
	MaxSteps      int     `yaml:"MaxSteps" validate:"gte=0"`
	MaxDOFs       int     `yaml:"MaxDOFs" validate:"gte=0"`
	Norm          string  `yaml:"Norm" validate:"oneof=L2 H1"`
	ErrorType     string  `yaml:"ErrorType"`
	CandList      string  `yaml:"CandList"`
	Stopping      string  `yaml:"Stopping"`
	Threshold     float64 `yaml:"Threshold" validate:"gt=0,lte=1"`
	ConvExp       float64 `yaml:"ConvExp" validate:"gt=0"`
	OrderIncrease int     `yaml:"OrderIncrease" validate:"gte=0"`
}

// NewInputParameters2D returns the defaults a parsed file overrides.
func NewInputParameters2D() *InputParameters2D {
	return &InputParameters2D{
		Title:           "Reaction front",
		Mode:            "steady",
		Domain:          [4]float64{0, 1, 0, 1},
		NX:              4,
		NY:              4,
		PolynomialOrder: 2,
		Kappa:           1,
		Steepness:       20,
		FinalTime:       1,
		TimeStep:        0.1,
		Newton: NewtonParameters{
			MaxIterations:  100,
			Tolerance:      1e-8,
			Damping:        1,
			MaxResidual:    1e9,
			ReuseStructure: true,
		},
		LinearSolver: LinearParameters{
			Type:           "direct",
			Method:         "gmres",
			Preconditioner: "ilu0",
			Tolerance:      1e-10,
			MaxIterations:  1000,
		},
		Adapt: AdaptParameters{
			ErrStop:       1,
			MaxSteps:      20,
			Norm:          "H1",
			ErrorType:     "relative_to_global_norm",
			CandList:      "hp_aniso",
			Stopping:      "single_element",
			Threshold:     0.3,
			ConvExp:       1,
			OrderIncrease: 1,
		},
	}
}

func (ip *InputParameters2D) Parse(data []byte) error {
	return yaml.Unmarshal(data, ip)
}

func (ip *InputParameters2D) Validate() (err error) {
	if err = validator.New().Struct(ip); err != nil {
		return
	}
	d := ip.Domain
	if d[1] <= d[0] || d[3] <= d[2] {
		return fmt.Errorf("empty domain [%g,%g]x[%g,%g]", d[0], d[1], d[2], d[3])
	}
	return
}

func (ip *InputParameters2D) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", ip.Title)
	fmt.Printf("[%s]\t\t\t= Mode\n", ip.Mode)
	fmt.Printf("%v\t\t= Domain\n", ip.Domain)
	fmt.Printf("[%d x %d]\t\t\t= Elements\n", ip.NX, ip.NY)
	fmt.Printf("[%d]\t\t\t\t= Polynomial Order\n", ip.PolynomialOrder)
	fmt.Printf("%8.5f\t\t= Kappa\n", ip.Kappa)
	fmt.Printf("%8.5f\t\t= Steepness\n", ip.Steepness)
	if ip.Mode == "transient" {
		fmt.Printf("%8.5f\t\t= FinalTime\n", ip.FinalTime)
		fmt.Printf("%8.5f\t\t= TimeStep\n", ip.TimeStep)
	}
	fmt.Printf("[%s]\t\t\t= Linear Solver\n", ip.LinearSolver.Type)
	fmt.Printf("%8.2e\t\t= Newton Tolerance\n", ip.Newton.Tolerance)
	if ip.Mode == "adaptive" {
		fmt.Printf("%8.5f%%\t\t= Error Goal\n", ip.Adapt.ErrStop)
		fmt.Printf("[%s]\t\t= Candidates\n", ip.Adapt.CandList)
		fmt.Printf("[%s %4.2f]\t= Stopping\n", ip.Adapt.Stopping, ip.Adapt.Threshold)
	}
}
