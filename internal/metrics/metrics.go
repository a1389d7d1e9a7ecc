package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot is the JSON view of the protocol counters; the CLI prints it on
// demand.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`

	BroadcastSent       uint64 `json:"broadcast_sent"`
	BroadcastSuppressed uint64 `json:"broadcast_suppressed"`
	SubmitSent          uint64 `json:"submit_sent"`
	SubmitConfirmed     uint64 `json:"submit_confirmed"`
	ReconcileApplied    uint64 `json:"reconcile_applied"`
	DedupDropped        uint64 `json:"dedup_dropped"`
	SelfEchoDropped     uint64 `json:"self_echo_dropped"`
	AuthRetries         uint64 `json:"auth_retries"`
	DiscoveryPolls      uint64 `json:"discovery_polls"`
	DeploysFired        uint64 `json:"deploys_fired"`
}

type Metrics struct {
	broadcastSent       atomic.Uint64
	broadcastSuppressed atomic.Uint64
	submitSent          atomic.Uint64
	submitConfirmed     atomic.Uint64
	reconcileApplied    atomic.Uint64
	dedupDropped        atomic.Uint64
	selfEchoDropped     atomic.Uint64
	authRetries         atomic.Uint64
	discoveryPolls      atomic.Uint64
	deploysFired        atomic.Uint64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncBroadcastSent()       { m.broadcastSent.Add(1) }
func (m *Metrics) IncBroadcastSuppressed() { m.broadcastSuppressed.Add(1) }
func (m *Metrics) IncSubmitSent()          { m.submitSent.Add(1) }
func (m *Metrics) IncSubmitConfirmed()     { m.submitConfirmed.Add(1) }
func (m *Metrics) IncReconcileApplied()    { m.reconcileApplied.Add(1) }
func (m *Metrics) IncDedupDropped()        { m.dedupDropped.Add(1) }
func (m *Metrics) IncSelfEchoDropped()     { m.selfEchoDropped.Add(1) }
func (m *Metrics) IncAuthRetries()         { m.authRetries.Add(1) }
func (m *Metrics) IncDiscoveryPolls()      { m.discoveryPolls.Add(1) }
func (m *Metrics) IncDeploysFired()        { m.deploysFired.Add(1) }

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		GeneratedAt:         time.Now().UTC(),
		BroadcastSent:       m.broadcastSent.Load(),
		BroadcastSuppressed: m.broadcastSuppressed.Load(),
		SubmitSent:          m.submitSent.Load(),
		SubmitConfirmed:     m.submitConfirmed.Load(),
		ReconcileApplied:    m.reconcileApplied.Load(),
		DedupDropped:        m.dedupDropped.Load(),
		SelfEchoDropped:     m.selfEchoDropped.Load(),
		AuthRetries:         m.authRetries.Load(),
		DiscoveryPolls:      m.discoveryPolls.Load(),
		DeploysFired:        m.deploysFired.Load(),
	}
}
