package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/impactwatcher/internal/contracts"
	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/indexing/metrics"
	"github.com/vietddude/impactwatcher/internal/infra/storage"
)

// communityAdded activates the manager's pending request and registers the
// deployed contract. A contract already stored is only re-registered.
func (d *Dispatcher) communityAdded(ctx context.Context, ev *domain.ParsedEvent) (bool, error) {
	contractAddr, err := address(ev, "communityAddress")
	if err != nil {
		return false, err
	}
	managerAddr, err := address(ev, "managerAddress")
	if err != nil {
		return false, err
	}
	contract := domain.NormalizeAddress(contractAddr)
	manager := domain.NormalizeAddress(managerAddr)
	v := ev.Version()

	existing, err := d.repos.Communities.GetByContract(ctx, contract)
	switch {
	case err == nil:
		d.registry.Register(contractAddr, existing.ID, existing.Public)
		return false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return false, fmt.Errorf("get community %s: %w", contract, err)
	}

	pending, err := d.repos.Communities.GetPendingByRequester(ctx, manager)
	if errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("%w: manager %s", ErrNoPendingRequest, manager)
	}
	if err != nil {
		return false, fmt.Errorf("get pending request of %s: %w", manager, err)
	}
	d.checkActivationOrder(ctx, manager, pending, v)

	applied, err := d.repos.Communities.Activate(ctx, pending.ID, contract, v)
	if err != nil {
		return false, fmt.Errorf("activate community %d: %w", pending.ID, err)
	}
	d.registry.Register(contractAddr, pending.ID, pending.Public)

	if _, err := d.repos.Managers.Upsert(ctx, &domain.Manager{
		CommunityID: pending.ID,
		Address:     manager,
		Active:      true,
		Version:     v,
	}); err != nil {
		return applied, fmt.Errorf("upsert manager %s: %w", manager, err)
	}

	if applied {
		d.emitter.Emit(manager, domain.NotificationCommunityActivated, map[string]any{
			"communityId":      pending.ID,
			"communityAddress": contract,
		})
	}
	return applied, nil
}

// checkActivationOrder flags a CommunityAdded that is older than an
// activation already applied for the same manager. Requests are paired oldest
// first, so the two contracts may now be attached to swapped requests.
func (d *Dispatcher) checkActivationOrder(ctx context.Context, manager string, pending *domain.Community, v domain.Version) {
	latest, err := d.repos.Communities.GetLatestActivatedByRequester(ctx, manager)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			d.log.Debug("Activation order check failed", "manager", manager, "error", err)
		}
		return
	}
	if !v.Less(latest.Version) {
		return
	}
	metrics.Anomalies.WithLabelValues(metrics.AnomalyLateActivation).Inc()
	d.log.Warn("Community activation older than one already applied, request pairing may be swapped",
		"manager", manager,
		"request_id", pending.ID,
		"block", v.Block,
		"log_index", v.Index,
		"applied_id", latest.ID,
		"applied_block", latest.Version.Block,
		"applied_log_index", latest.Version.Index,
	)
}

func (d *Dispatcher) communityRemoved(ctx context.Context, ev *domain.ParsedEvent) (bool, error) {
	contractAddr, err := address(ev, "communityAddress")
	if err != nil {
		return false, err
	}
	contract := domain.NormalizeAddress(contractAddr)
	v := ev.Version()

	c, err := d.getCommunity(ctx, contract)
	if err != nil {
		return false, err
	}

	applied, err := d.repos.Communities.SetStatus(ctx, c.ID, domain.CommunityStatusRemoved, v)
	if err != nil {
		return false, fmt.Errorf("remove community %d: %w", c.ID, err)
	}

	if applied && d.opts.CascadeOnRemoval {
		n, err := d.repos.Beneficiaries.DeactivateAll(ctx, c.ID, v)
		if err != nil {
			return applied, fmt.Errorf("deactivate beneficiaries of %d: %w", c.ID, err)
		}
		d.log.Info("Community removed, beneficiaries deactivated", "community_id", c.ID, "count", n)
	}
	return applied, nil
}

// communityMigrated moves a community to its new contract. The old address
// stays resolvable so late logs from it are still attributed.
func (d *Dispatcher) communityMigrated(ctx context.Context, ev *domain.ParsedEvent) (bool, error) {
	newAddr, err := address(ev, "communityAddress")
	if err != nil {
		return false, err
	}
	prevAddr, err := address(ev, "previousCommunityAddress")
	if err != nil {
		return false, err
	}

	c, err := d.getCommunity(ctx, domain.NormalizeAddress(prevAddr))
	if err != nil {
		return false, err
	}

	applied, err := d.repos.Communities.Migrate(ctx, c.ID, domain.NormalizeAddress(newAddr), ev.Version())
	if err != nil {
		return false, fmt.Errorf("migrate community %d: %w", c.ID, err)
	}
	d.registry.Register(newAddr, c.ID, c.Public)
	return applied, nil
}

func (d *Dispatcher) getCommunity(ctx context.Context, contract string) (*domain.Community, error) {
	c, err := d.repos.Communities.GetByContract(ctx, contract)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: community %s", ErrMissingReference, contract)
	}
	if err != nil {
		return nil, fmt.Errorf("get community %s: %w", contract, err)
	}
	return c, nil
}

func (d *Dispatcher) resolve(ev *domain.ParsedEvent) (int64, error) {
	id, ok := d.registry.Resolve(ev.Log.Address)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnregisteredCommunity, ev.Log.Address.Hex())
	}
	return id, nil
}

func (d *Dispatcher) beneficiaryState(state domain.BeneficiaryState) HandlerFunc {
	return func(ctx context.Context, ev *domain.ParsedEvent) (bool, error) {
		communityID, err := d.resolve(ev)
		if err != nil {
			return false, err
		}
		addr, err := address(ev, "beneficiary")
		if err != nil {
			return false, err
		}
		beneficiary := domain.NormalizeAddress(addr)

		applied, err := d.repos.Beneficiaries.Upsert(ctx, &domain.Beneficiary{
			CommunityID: communityID,
			Address:     beneficiary,
			State:       state,
			Version:     ev.Version(),
		})
		if err != nil {
			return false, fmt.Errorf("upsert beneficiary %s: %w", beneficiary, err)
		}

		if applied && ev.Name == contracts.EventBeneficiaryAdded {
			d.emitter.Emit(beneficiary, domain.NotificationBeneficiaryAdded, map[string]any{
				"communityId": communityID,
			})
		}
		return applied, nil
	}
}

func (d *Dispatcher) managerState(active bool) HandlerFunc {
	return func(ctx context.Context, ev *domain.ParsedEvent) (bool, error) {
		communityID, err := d.resolve(ev)
		if err != nil {
			return false, err
		}
		addr, err := address(ev, "account")
		if err != nil {
			return false, err
		}
		manager := domain.NormalizeAddress(addr)

		applied, err := d.repos.Managers.Upsert(ctx, &domain.Manager{
			CommunityID: communityID,
			Address:     manager,
			Active:      active,
			Version:     ev.Version(),
		})
		if err != nil {
			return false, fmt.Errorf("upsert manager %s: %w", manager, err)
		}

		if applied && active {
			d.emitter.Emit(manager, domain.NotificationManagerAdded, map[string]any{
				"communityId": communityID,
			})
		}
		return applied, nil
	}
}
