package reconcile

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/flowline/flowline/pkg/models"
)

// healthConcurrency bounds how many flows are checked in parallel.
const healthConcurrency = 4

// HealthReport summarizes one tenant health pass.
type HealthReport struct {
	Tenant          models.TenantKey `json:"tenant"`
	TotalFlows      int              `json:"total_flows"`
	Inconsistencies []string         `json:"inconsistencies,omitempty"`
	ReconciledFlows []string         `json:"reconciled_flows,omitempty"`
}

// MonitorFlowsHealth checks every non-deleted master flow for a tenant. A
// master with no matching child record is flagged as an inconsistency; for
// the rest the derived master status is compared with the actual one and
// mismatches are reconciled. Individual flow failures are recorded, not
// fatal.
func (r *Reconciler) MonitorFlowsHealth(ctx context.Context, tenant models.TenantKey) (*HealthReport, error) {
	flows, err := r.store.ListMasterFlows(tenant)
	if err != nil {
		return nil, fmt.Errorf("list flows for %s: %w", tenant, err)
	}

	report := &HealthReport{Tenant: tenant, TotalFlows: len(flows)}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(healthConcurrency)

	for _, m := range flows {
		g.Go(func() error {
			if _, err := r.store.GetChildFlow(m.FlowID, m.FlowType); err != nil {
				mu.Lock()
				report.Inconsistencies = append(report.Inconsistencies,
					fmt.Sprintf("flow %s has no %s child record: %v", m.FlowID, m.FlowType, err))
				mu.Unlock()
				return nil
			}

			result, err := r.ReconcileMasterStatus(ctx, m.FlowID)
			if err != nil {
				mu.Lock()
				report.Inconsistencies = append(report.Inconsistencies,
					fmt.Sprintf("flow %s reconciliation failed: %v", m.FlowID, err))
				mu.Unlock()
				return nil
			}
			if result.Changed {
				mu.Lock()
				report.ReconciledFlows = append(report.ReconciledFlows, m.FlowID)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}
