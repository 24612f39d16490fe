package metrics

import (
	"encoding/json"
	"os"
	"sync/atomic"
	"time"
)

type Snapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Requests    RequestMetrics `json:"requests"`
	Storage     StorageMetrics `json:"storage"`
	Quorum      QuorumMetrics  `json:"quorum"`
}

type RequestMetrics struct {
	Served   uint64 `json:"served"`
	Rejected uint64 `json:"rejected"`
}

type StorageMetrics struct {
	ChunksStored        uint64 `json:"chunks_stored"`
	ChunksServed        uint64 `json:"chunks_served"`
	SpendsAccepted      uint64 `json:"spends_accepted"`
	DoubleSpendsCaught  uint64 `json:"double_spends_caught"`
	ReplicasApplied     uint64 `json:"replicas_applied"`
	RegisterOpsAccepted uint64 `json:"register_ops_accepted"`
}

type QuorumMetrics struct {
	Reached    uint64 `json:"reached"`
	NotReached uint64 `json:"not_reached"`
}

type Metrics struct {
	requestsServed      atomic.Uint64
	requestsRejected    atomic.Uint64
	chunksStored        atomic.Uint64
	chunksServed        atomic.Uint64
	spendsAccepted      atomic.Uint64
	doubleSpendsCaught  atomic.Uint64
	replicasApplied     atomic.Uint64
	registerOpsAccepted atomic.Uint64
	quorumReached       atomic.Uint64
	quorumNotReached    atomic.Uint64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncRequestsServed()      { m.requestsServed.Add(1) }
func (m *Metrics) IncRequestsRejected()    { m.requestsRejected.Add(1) }
func (m *Metrics) IncChunksStored()        { m.chunksStored.Add(1) }
func (m *Metrics) IncChunksServed()        { m.chunksServed.Add(1) }
func (m *Metrics) IncSpendsAccepted()      { m.spendsAccepted.Add(1) }
func (m *Metrics) IncDoubleSpendsCaught()  { m.doubleSpendsCaught.Add(1) }
func (m *Metrics) IncReplicasApplied()     { m.replicasApplied.Add(1) }
func (m *Metrics) IncRegisterOpsAccepted() { m.registerOpsAccepted.Add(1) }
func (m *Metrics) IncQuorumReached()       { m.quorumReached.Add(1) }
func (m *Metrics) IncQuorumNotReached()    { m.quorumNotReached.Add(1) }

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Requests: RequestMetrics{
			Served:   m.requestsServed.Load(),
			Rejected: m.requestsRejected.Load(),
		},
		Storage: StorageMetrics{
			ChunksStored:        m.chunksStored.Load(),
			ChunksServed:        m.chunksServed.Load(),
			SpendsAccepted:      m.spendsAccepted.Load(),
			DoubleSpendsCaught:  m.doubleSpendsCaught.Load(),
			ReplicasApplied:     m.replicasApplied.Load(),
			RegisterOpsAccepted: m.registerOpsAccepted.Load(),
		},
		Quorum: QuorumMetrics{
			Reached:    m.quorumReached.Load(),
			NotReached: m.quorumNotReached.Load(),
		},
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
