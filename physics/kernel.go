package physics

import (
	"fmt"
	"sync"

	"github.com/nanalysis/ringfit/errs"
)

// Kernel owns the tunable physical constants (bond lengths and CSA values) and
// the relaxation-constant cache derived from them.
//
// Changing a constant invalidates the cache. The zero value is not usable; call
// NewKernel.
type Kernel struct {
	mu    sync.RWMutex
	bonds map[string]float64
	csa   map[Element]float64
	cache *RelaxCache
}

// NewKernel creates a Kernel with the default bond lengths and CSA values.
func NewKernel() *Kernel {
	return &Kernel{
		bonds: map[string]float64{
			"HN": BondHN, "NH": BondHN,
			"HC": BondHC, "CH": BondHC,
			"DC": BondHC, "CD": BondHC,
			"CC": BondCC,
		},
		csa: map[Element]float64{
			ElementN: DefaultCSA,
			ElementC: DefaultCSA,
		},
		cache: NewRelaxCache(),
	}
}

// Cache exposes the kernel's relaxation cache.
func (k *Kernel) Cache() *RelaxCache {
	return k.cache
}

// SetBondLength sets the internuclear distance (m) for an element pair and
// invalidates the cache.
func (k *Kernel) SetBondLength(e1, e2 Element, r float64) error {
	if err := CheckPositive("bond length", r); err != nil {
		return err
	}

	k.mu.Lock()
	k.bonds[string(e1)+string(e2)] = r
	k.bonds[string(e2)+string(e1)] = r
	k.mu.Unlock()
	k.cache.Invalidate()

	return nil
}

// BondLength returns the internuclear distance for an element pair.
func (k *Kernel) BondLength(e1, e2 Element) (float64, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	r, ok := k.bonds[string(e1)+string(e2)]
	if !ok {
		return 0, fmt.Errorf("%w: no bond length for %s%s", errs.ErrInvalidPhysicalParameter, e1, e2)
	}

	return r, nil
}

// SetCSA sets the chemical shift anisotropy of an element and invalidates the cache.
func (k *Kernel) SetCSA(e Element, sigma float64) error {
	if _, err := Gamma(e); err != nil {
		return err
	}

	k.mu.Lock()
	k.csa[e] = sigma
	k.mu.Unlock()
	k.cache.Invalidate()

	return nil
}

// CSA returns the chemical shift anisotropy of an element, defaulting to
// DefaultCSA for elements that have none registered.
func (k *Kernel) CSA(e Element) float64 {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if v, ok := k.csa[e]; ok {
		return v
	}

	return DefaultCSA
}

// Relax returns the relaxation constants for a proton spectrometer frequency sf
// (Hz) and a spin pair, fetching them from the cache when available.
//
// Parameters:
//   - sf: proton spectrometer frequency in Hz
//   - elemI: the observed or attached spin (H for 15N-1H, D for deuterium)
//   - elemS: the partner spin
//
// Returns:
//   - *RelaxConstants: immutable constants, shared between callers
//   - error: ErrInvalidPhysicalParameter for unknown elements or sf <= 0
func (k *Kernel) Relax(sf float64, elemI, elemS Element) (*RelaxConstants, error) {
	if err := CheckPositive("spectrometer frequency", sf); err != nil {
		return nil, err
	}

	return k.cache.LoadOrStore(sf, elemI, elemS, func() (*RelaxConstants, error) {
		r, err := k.BondLength(elemI, elemS)
		if err != nil {
			return nil, err
		}

		return newRelaxConstants(sf, elemI, elemS, r, k.CSA(elemS))
	})
}
