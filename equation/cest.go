package equation

import "github.com/nanalysis/ringfit/physics"

// CEST variant names.
const (
	CESTNoEx        = "CEST_NOEX"
	CESTTrott       = "CEST_TROTT_PALMER"
	CESTSD          = "CEST_SD"
	CESTBaldwinKay  = "CEST_BALDWINKAY"
	CESTLaguerre    = "CEST_LAGUERRE"
	CESTExact0      = "CEST_EXACT0"
	CESTExact1      = "CEST_EXACT1"
	CESTExact2      = "CEST_EXACT2"
	CESTEigenExact1 = "CEST_EIGENEXACT1"
)

func init() {
	exact := func(e physics.Exchange, pt physics.Point) (float64, error) {
		return physics.CESTExact0(e, pt.Tex)
	}
	eigen := func(e physics.Exchange, pt physics.Point) (float64, error) {
		return physics.CESTEigenExact1(e, pt.Tex)
	}

	register(
		noExVariant(CESTNoEx, FamilyCEST, cestProfile, cestKernel(physics.CESTNoEx)),
		exchangeVariant(CESTTrott, FamilyCEST, cestProfile, layoutR1Tied, CESTNoEx, cestKernel(physics.CESTTrott)),
		exchangeVariant(CESTSD, FamilyCEST, cestProfile, layoutR1Tied, CESTNoEx, cestKernel(physics.CESTSD)),
		exchangeVariant(CESTBaldwinKay, FamilyCEST, cestProfile, layoutR1Tied, CESTNoEx, cestKernel(physics.CESTBaldwinKay)),
		exchangeVariant(CESTLaguerre, FamilyCEST, cestProfile, layoutRateTied, CESTNoEx, cestKernel(physics.CESTLaguerre)),
		exchangeVariant(CESTExact0, FamilyCEST, cestProfile, layoutFree, CESTNoEx, exact),
		exchangeVariant(CESTExact1, FamilyCEST, cestProfile, layoutR1Tied, CESTNoEx, exact),
		exchangeVariant(CESTExact2, FamilyCEST, cestProfile, layoutR2Tied, CESTNoEx, exact),
		exchangeVariant(CESTEigenExact1, FamilyCEST, cestProfile, layoutR1Tied, CESTNoEx, eigen),
	)
}
