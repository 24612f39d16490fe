package node

import (
	"github.com/pkg/errors"

	"xornet/internal/debuglog"
	"xornet/internal/metrics"
	"xornet/internal/protocol"
	"xornet/internal/storage"
)

// Runner applies inbound requests against local storage and produces
// exactly one response per request. Every request variant is handled;
// anything malformed earns a bad_request rejection rather than
// silence.
type Runner struct {
	store *storage.Store
	met   *metrics.Metrics
	// onStored is invoked after a command persists new data, with the
	// replica the rest of the close group should receive. May be nil.
	onStored func(data *protocol.ReplicatedData)
}

func NewRunner(store *storage.Store, met *metrics.Metrics, onStored func(*protocol.ReplicatedData)) *Runner {
	if met == nil {
		met = metrics.New()
	}
	return &Runner{store: store, met: met, onStored: onStored}
}

// Handle is the network.RequestHandler of a node.
func (r *Runner) Handle(from protocol.PeerID, req *protocol.Request) *protocol.Response {
	r.met.IncRequestsServed()
	var resp *protocol.Response
	switch {
	case req.Cmd != nil:
		resp = &protocol.Response{Cmd: r.handleCmd(req.Cmd)}
	case req.Query != nil:
		resp = &protocol.Response{Query: r.handleQuery(req.Query)}
	case req.Event != nil:
		resp = &protocol.Response{Cmd: r.handleEvent(req.Event)}
	default:
		resp = &protocol.Response{Cmd: &protocol.CmdResponse{}}
	}
	debuglog.Debugf("%s from %s -> %s", req, from.Short(), resp)
	return resp
}

func (r *Runner) handleCmd(cmd *protocol.Cmd) *protocol.CmdResponse {
	switch {
	case cmd.StoreChunk != nil:
		res := r.storeChunk(*cmd.StoreChunk)
		return &protocol.CmdResponse{StoreChunk: res}
	case cmd.Register != nil:
		res := r.applyRegister(*cmd.Register)
		return &protocol.CmdResponse{Register: res}
	case cmd.Spend != nil:
		res := r.acceptSpend(cmd.Spend)
		return &protocol.CmdResponse{Spend: res}
	case cmd.Replicate != nil:
		res := r.applyReplica(cmd.Replicate)
		return &protocol.CmdResponse{Replicate: res}
	}
	return &protocol.CmdResponse{}
}

func (r *Runner) storeChunk(chunk protocol.Chunk) *protocol.CmdResult {
	if len(chunk.Value) > protocol.MaxChunkSize {
		r.met.IncRequestsRejected()
		return &protocol.CmdResult{Err: &protocol.WireError{Code: protocol.CodeChunkTooLarge}}
	}
	if err := r.store.PutChunk(chunk); err != nil {
		return r.rejectCmd(err)
	}
	r.met.IncChunksStored()
	r.replicate(&protocol.ReplicatedData{Chunk: &chunk})
	return &protocol.CmdResult{}
}

func (r *Runner) applyRegister(cmd protocol.RegisterCmd) *protocol.CmdResult {
	if err := r.store.AppendRegisterOp(cmd); err != nil {
		return r.rejectCmd(err)
	}
	r.met.IncRegisterOpsAccepted()
	r.replicate(&protocol.ReplicatedData{RegisterWrite: &cmd})
	return &protocol.CmdResult{}
}

func (r *Runner) acceptSpend(sr *protocol.SpendRequest) *protocol.CmdResult {
	ss := sr.SignedSpend
	if err := ss.Verify(); err != nil {
		r.met.IncRequestsRejected()
		return &protocol.CmdResult{Err: &protocol.WireError{Code: protocol.CodeInvalidSignature, Msg: err.Error()}}
	}
	if err := r.store.PutSpend(&ss); err != nil {
		return r.rejectCmd(err)
	}
	r.met.IncSpendsAccepted()
	r.replicate(&protocol.ReplicatedData{ValidSpend: &ss})
	return &protocol.CmdResult{}
}

func (r *Runner) applyReplica(data *protocol.ReplicatedData) *protocol.CmdResult {
	var err error
	switch {
	case data.Chunk != nil:
		err = r.store.PutChunk(*data.Chunk)
	case data.RegisterWrite != nil:
		err = r.store.AppendRegisterOp(*data.RegisterWrite)
	case data.RegisterLog != nil:
		err = r.store.MergeRegisterLog(*data.RegisterLog)
	case data.ValidSpend != nil:
		err = r.store.PutSpend(data.ValidSpend)
	case data.DoubleSpend != nil:
		err = r.store.RecordDoubleSpend(*data.DoubleSpend)
		if err == nil {
			r.met.IncDoubleSpendsCaught()
		}
	default:
		r.met.IncRequestsRejected()
		return &protocol.CmdResult{Err: &protocol.WireError{Code: protocol.CodeBadRequest, Msg: "empty replica"}}
	}
	if err != nil {
		return r.rejectCmd(err)
	}
	r.met.IncReplicasApplied()
	return &protocol.CmdResult{}
}

func (r *Runner) handleQuery(q *protocol.Query) *protocol.QueryResponse {
	switch {
	case q.GetChunk != nil:
		chunk, err := r.store.GetChunk(*q.GetChunk)
		if err != nil {
			return &protocol.QueryResponse{GetChunk: &protocol.GetChunkResult{Err: wireErr(err)}}
		}
		r.met.IncChunksServed()
		return &protocol.QueryResponse{GetChunk: &protocol.GetChunkResult{Chunk: &chunk}}
	case q.GetSpend != nil:
		ss, err := r.store.GetSpend(*q.GetSpend)
		if err != nil {
			return &protocol.QueryResponse{GetSpend: &protocol.GetSpendResult{Err: wireErr(err)}}
		}
		return &protocol.QueryResponse{GetSpend: &protocol.GetSpendResult{Spend: ss}}
	case q.GetRegister != nil:
		log, err := r.store.GetRegister(*q.GetRegister)
		if err != nil {
			return &protocol.QueryResponse{GetRegister: &protocol.GetRegisterResult{Err: wireErr(err)}}
		}
		return &protocol.QueryResponse{GetRegister: &protocol.GetRegisterResult{Log: log}}
	}
	return &protocol.QueryResponse{}
}

// handleEvent records reported facts. Events are acknowledged with an
// empty command response: they carry no mirror variant.
func (r *Runner) handleEvent(e *protocol.Event) *protocol.CmdResponse {
	if e.DoubleSpendObserved != nil {
		evidence := protocol.DoubleSpendEvidence{
			Address: e.DoubleSpendObserved.Address,
			Spends:  e.DoubleSpendObserved.Spends,
		}
		if err := r.store.RecordDoubleSpend(evidence); err != nil {
			debuglog.Debugf("reported double spend not recorded: %v", err)
		} else {
			r.met.IncDoubleSpendsCaught()
		}
	}
	return &protocol.CmdResponse{}
}

func (r *Runner) rejectCmd(err error) *protocol.CmdResult {
	r.met.IncRequestsRejected()
	return &protocol.CmdResult{Err: wireErr(err)}
}

// wireErr maps storage conditions onto stable wire codes.
func wireErr(err error) *protocol.WireError {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return &protocol.WireError{Code: protocol.CodeNotFound}
	case errors.Is(err, storage.ErrDoubleSpend):
		return &protocol.WireError{Code: protocol.CodeDoubleSpend}
	case errors.Is(err, storage.ErrFull):
		return &protocol.WireError{Code: protocol.CodeStorageFull}
	default:
		return &protocol.WireError{Code: protocol.CodeBadRequest, Msg: err.Error()}
	}
}

func (r *Runner) replicate(data *protocol.ReplicatedData) {
	if r.onStored != nil {
		r.onStored(data)
	}
}

// Metrics exposes the runner's counters for status output.
func (r *Runner) Metrics() *metrics.Metrics { return r.met }
