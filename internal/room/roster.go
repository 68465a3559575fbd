package room

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/MegaGrindStone/roundtable/internal/models"
	"github.com/samber/lo"
)

// ConfigFetcher retrieves the role partition the service configured for a session.
type ConfigFetcher interface {
	SessionConfig(ctx context.Context, sessionID string) (models.RoleAssignment, error)
}

// Roster resolves which traveler roles of a session are typed by people and which ones are
// answered by the service itself.
type Roster struct {
	fetcher ConfigFetcher

	logger *slog.Logger
}

const errLoggerKey = "err"

// NewRoster creates a Roster backed by fetcher.
func NewRoster(fetcher ConfigFetcher, logger *slog.Logger) Roster {
	return Roster{
		fetcher: fetcher,
		logger:  logger.With(slog.String("module", "roster")),
	}
}

// DefaultAssignment is used whenever the session configuration is unavailable or malformed:
// travelers B and D are human, A and C are automated.
func DefaultAssignment() models.RoleAssignment {
	return models.RoleAssignment{
		AutomatedRoles: []models.Role{models.RoleTravelerA, models.RoleTravelerC},
		HumanRoles:     []models.Role{models.RoleTravelerB, models.RoleTravelerD},
	}
}

// Resolve fetches the session configuration once and returns its role partition. Any failure,
// including a response that does not partition the traveler roles exactly, yields
// DefaultAssignment. Resolve never returns an error; the fallback is silent to the user.
func (r Roster) Resolve(ctx context.Context, sessionID string) models.RoleAssignment {
	a, err := r.fetcher.SessionConfig(ctx, sessionID)
	if err != nil {
		r.logger.Warn("Failed to fetch session config, using default roles",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		return DefaultAssignment()
	}

	if err := ValidateAssignment(a); err != nil {
		r.logger.Warn("Malformed session config, using default roles",
			slog.String("sessionID", sessionID),
			slog.String("assignment", fmt.Sprintf("%+v", a)),
			slog.String(errLoggerKey, err.Error()))
		return DefaultAssignment()
	}

	// Both sides are re-ordered by traveler enumeration so rendering is stable.
	return models.RoleAssignment{
		AutomatedRoles: lo.Filter(models.Travelers, func(t models.Role, _ int) bool {
			return slices.Contains(a.AutomatedRoles, t)
		}),
		HumanRoles: lo.Filter(models.Travelers, func(t models.Role, _ int) bool {
			return slices.Contains(a.HumanRoles, t)
		}),
	}
}

// ValidateAssignment checks that every traveler role appears in exactly one side of a and that
// nothing else does.
func ValidateAssignment(a models.RoleAssignment) error {
	all := slices.Concat(a.AutomatedRoles, a.HumanRoles)

	if dups := lo.FindDuplicates(all); len(dups) > 0 {
		return fmt.Errorf("roles assigned more than once: %v", dups)
	}

	missing, unknown := lo.Difference(models.Travelers, all)
	if len(unknown) > 0 {
		return fmt.Errorf("unknown roles: %v", unknown)
	}
	if len(missing) > 0 {
		return fmt.Errorf("unassigned roles: %v", missing)
	}
	return nil
}
