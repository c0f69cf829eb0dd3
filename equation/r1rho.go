package equation

import "github.com/nanalysis/ringfit/physics"

// R1rho variant names.
const (
	R1rhoNoEx         = "R1RHOPERTURBATIONNOEX"
	R1rhoPerturbation = "R1RHOPERTURBATION"
	R1rhoBaldwinKay   = "R1RHOBALDWINKAY"
	R1rhoLaguerre     = "R1RHOLAGUERRE"
	R1rhoExact        = "R1RHOEXACT"
	R1rhoExact0       = "R1RHOEXACT0"
)

func init() {
	exact := func(e physics.Exchange, _ physics.Point) (float64, error) {
		return physics.R1rhoExact(e)
	}
	// The third x row of an R1rho point is the spin-lock delay.
	exact0 := func(e physics.Exchange, pt physics.Point) (float64, error) {
		return physics.R1rhoExact0(e, pt.Tex)
	}

	register(
		noExVariant(R1rhoNoEx, FamilyR1rho, r1rhoProfile, rateKernel(physics.R1rhoNoEx)),
		exchangeVariant(R1rhoPerturbation, FamilyR1rho, r1rhoProfile, layoutR1Tied, R1rhoNoEx, rateKernel(physics.R1rhoPerturbation)),
		exchangeVariant(R1rhoBaldwinKay, FamilyR1rho, r1rhoProfile, layoutR1Tied, R1rhoNoEx, rateKernel(physics.R1rhoBaldwinKay)),
		exchangeVariant(R1rhoLaguerre, FamilyR1rho, r1rhoProfile, layoutRateTied, R1rhoNoEx, rateKernel(physics.R1rhoLaguerre)),
		exchangeVariant(R1rhoExact, FamilyR1rho, r1rhoProfile, layoutR1Tied, R1rhoNoEx, exact),
		exchangeVariant(R1rhoExact0, FamilyR1rho, r1rhoProfile, layoutR1Tied, R1rhoNoEx, exact0),
	)
}
