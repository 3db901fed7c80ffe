package indicator

import (
	"fmt"

	"github.com/coachpo/takt/errs"
	"github.com/coachpo/takt/internal/ledger"
)

// Ensure materializes the requested indicator columns on l together with the
// calculator systems that keep them populated, expanding compound indicators
// into their primitive chains. Calculators land in the ledger's "indicators"
// stage, inserted before "main"; dependencies are added before dependents so
// a full chain settles within a single tick. Ensure is idempotent.
//
// Borrowed source columns must be mounted before Ensure runs, otherwise an
// empty owned column shadows the mount.
func Ensure(l *ledger.Ledger, keys ...ledger.Key) error {
	seen := make(map[ledger.Key]bool)
	for _, key := range keys {
		if err := ensureKey(l, key, seen); err != nil {
			return err
		}
	}
	return nil
}

func ensureKey(l *ledger.Ledger, key ledger.Key, seen map[ledger.Key]bool) error {
	if seen[key] {
		return nil
	}
	seen[key] = true

	desc, ok := DescOf(key)
	if !ok {
		// Plain component column, nothing to derive.
		return l.EnsureColumn(key)
	}

	switch desc.Kind {
	case KindOpen, KindHigh, KindLow, KindClose, KindVolume, KindSpread:
		// Data columns are written by feeds and strategies, not calculators.
		return l.EnsureColumn(key)

	case KindSMA:
		if err := requireHorizon(desc, 1); err != nil {
			return err
		}
		if err := ensureKey(l, desc.Source, seen); err != nil {
			return err
		}
		addCalculator(l, makeSMA(desc, key))

	case KindEMA:
		if err := requireHorizon(desc, 1); err != nil {
			return err
		}
		if err := ensureKey(l, desc.Source, seen); err != nil {
			return err
		}
		addCalculator(l, makeEMA(desc, key))

	case KindMovingStdDev:
		if err := requireHorizon(desc, 2); err != nil {
			return err
		}
		if err := ensureKey(l, desc.Source, seen); err != nil {
			return err
		}
		addCalculator(l, makeStdDev(desc, key))

	case KindDifference:
		if err := ensureKey(l, desc.Source, seen); err != nil {
			return err
		}
		addCalculator(l, makeDiff(desc, key))

	case KindRelativeDifference:
		if err := requireScalarSource(desc); err != nil {
			return err
		}
		if err := ensureKey(l, desc.Source, seen); err != nil {
			return err
		}
		addCalculator(l, newRelDiffSystem(desc.Source, key))

	case KindUpDown:
		if err := requireScalarSource(desc); err != nil {
			return err
		}
		if err := ensureKey(l, desc.Source, seen); err != nil {
			return err
		}
		addCalculator(l, newUpDownSystem(desc.Source, key))

	case KindLogVal:
		if err := requireScalarSource(desc); err != nil {
			return err
		}
		if err := ensureKey(l, desc.Source, seen); err != nil {
			return err
		}
		addCalculator(l, newLogValSystem(desc.Source, key))

	case KindRSI:
		if err := requireHorizon(desc, 1); err != nil {
			return err
		}
		if err := requireScalarSource(desc); err != nil {
			return err
		}
		chain := EMA(desc.Horizon, UpDown(Difference(desc.Source)))
		if err := ensureKey(l, chain, seen); err != nil {
			return err
		}
		addCalculator(l, newRSISystem(chain, key))

	case KindBollinger:
		if err := requireHorizon(desc, 2); err != nil {
			return err
		}
		if err := requireScalarSource(desc); err != nil {
			return err
		}
		smaKey := SMA(desc.Horizon, desc.Source)
		stdKey := MovingStdDev(desc.Horizon, desc.Source)
		if err := ensureKey(l, smaKey, seen); err != nil {
			return err
		}
		if err := ensureKey(l, stdKey, seen); err != nil {
			return err
		}
		addCalculator(l, newBandSystem(smaKey, stdKey, key))

	case KindSharpe:
		if err := requireHorizon(desc, 2); err != nil {
			return err
		}
		if err := requireScalarSource(desc); err != nil {
			return err
		}
		smaKey := SMA(desc.Horizon, desc.Source)
		stdKey := MovingStdDev(desc.Horizon, desc.Source)
		if err := ensureKey(l, smaKey, seen); err != nil {
			return err
		}
		if err := ensureKey(l, stdKey, seen); err != nil {
			return err
		}
		addCalculator(l, newSharpeSystem(smaKey, stdKey, key))

	default:
		return invalidKind(desc)
	}

	return l.EnsureColumn(key)
}

func addCalculator(l *ledger.Ledger, sys ledger.System) {
	l.InsertStageBefore("indicators", "main")
	l.AddSystem("indicators", sys)
}

func makeSMA(desc Desc, dst ledger.Key) ledger.System {
	switch elemOf(desc.Source) {
	case elemGain:
		return newSMASystem[Gain](desc.Horizon, desc.Source, dst)
	case elemBand:
		return newSMASystem[Band](desc.Horizon, desc.Source, dst)
	default:
		return newSMASystem[Scalar](desc.Horizon, desc.Source, dst)
	}
}

func makeEMA(desc Desc, dst ledger.Key) ledger.System {
	switch elemOf(desc.Source) {
	case elemGain:
		return newEMASystem[Gain](desc.Horizon, desc.Source, dst)
	case elemBand:
		return newEMASystem[Band](desc.Horizon, desc.Source, dst)
	default:
		return newEMASystem[Scalar](desc.Horizon, desc.Source, dst)
	}
}

func makeStdDev(desc Desc, dst ledger.Key) ledger.System {
	switch elemOf(desc.Source) {
	case elemGain:
		return newStdDevSystem[Gain](desc.Horizon, desc.Source, dst)
	case elemBand:
		return newStdDevSystem[Band](desc.Horizon, desc.Source, dst)
	default:
		return newStdDevSystem[Scalar](desc.Horizon, desc.Source, dst)
	}
}

func makeDiff(desc Desc, dst ledger.Key) ledger.System {
	switch elemOf(desc.Source) {
	case elemGain:
		return newDiffSystem[Gain](desc.Source, dst)
	case elemBand:
		return newDiffSystem[Band](desc.Source, dst)
	default:
		return newDiffSystem[Scalar](desc.Source, dst)
	}
}

func requireHorizon(desc Desc, min int) error {
	if desc.Horizon >= min {
		return nil
	}
	return errs.New("indicator.ensure", errs.CodeInvalid,
		errs.WithMessage(fmt.Sprintf("%s requires a horizon of at least %d, got %d",
			desc.Kind, min, desc.Horizon)))
}

func requireScalarSource(desc Desc) error {
	if elemOf(desc.Source) == elemScalar {
		return nil
	}
	return errs.New("indicator.ensure", errs.CodeInvalid,
		errs.WithMessage(fmt.Sprintf("%s requires a scalar source, %s is not",
			desc.Kind, ledger.NameOf(desc.Source))))
}

func invalidKind(desc Desc) error {
	return errs.New("indicator.ensure", errs.CodeInvalid,
		errs.WithMessage(fmt.Sprintf("no calculator registered for kind %q", desc.Kind)))
}
