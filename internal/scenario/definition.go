package scenario

import (
	"fmt"
	"strings"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

// Validate normalizes and checks a definition before it is stored.
// Steps without explicit indexes are numbered in list order.
func Validate(def *domain.ScenarioDefinition) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: name is required", domain.ErrInvalidDefinition)
	}
	if !def.TriggerType.Valid() {
		return fmt.Errorf("%w: unknown trigger type %q", domain.ErrInvalidDefinition, def.TriggerType)
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("%w: at least one step is required", domain.ErrInvalidDefinition)
	}
	if def.DailySendLimit <= 0 {
		return fmt.Errorf("%w: daily send limit must be positive", domain.ErrInvalidDefinition)
	}

	for _, seg := range def.SegmentTargets {
		if seg.Rank() == 0 {
			return fmt.Errorf("%w: unknown segment %q", domain.ErrInvalidDefinition, seg)
		}
	}

	numbered := true
	for _, st := range def.Steps {
		if st.Index != 0 {
			numbered = false
			break
		}
	}

	for i := range def.Steps {
		st := &def.Steps[i]
		if numbered {
			st.Index = i
		}
		if st.Kind == "" {
			st.Kind = domain.StepMessage
		}

		switch {
		case st.Index != i:
			return fmt.Errorf("%w: step %d has index %d", domain.ErrInvalidDefinition, i, st.Index)
		case st.Kind != domain.StepMessage:
			return fmt.Errorf("%w: step %d has unknown kind %q", domain.ErrInvalidDefinition, i, st.Kind)
		case st.DelayHours < 0:
			return fmt.Errorf("%w: step %d has negative delay", domain.ErrInvalidDefinition, i)
		case strings.TrimSpace(st.Template) == "":
			return fmt.Errorf("%w: step %d has no template", domain.ErrInvalidDefinition, i)
		case !st.Goal.Valid():
			return fmt.Errorf("%w: step %d has unknown goal %q", domain.ErrInvalidDefinition, i, st.Goal)
		}
	}
	return nil
}
