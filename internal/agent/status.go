package agent

// CallStatus describes the call in progress.
type CallStatus struct {
	CallID      string `json:"callId"`
	PhoneNumber string `json:"phoneNumber"`
	State       string `json:"state"`
	Tick        int    `json:"tick"`
	Answered    bool   `json:"answered"`
	HasAudio    bool   `json:"hasAudio"`
}

// Status is a point-in-time view of the agent, safe to read from any
// goroutine.
type Status struct {
	Connection ConnState   `json:"connection"`
	DeviceID   string      `json:"deviceId"`
	Call       *CallStatus `json:"call,omitempty"`
	Pending    []string    `json:"pending,omitempty"`
}

func (a *Agent) Status() Status {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status
}

// publishStatus snapshots loop-owned state. Loop only.
func (a *Agent) publishStatus() {
	st := Status{
		Connection: a.conn,
		DeviceID:   a.cfg.Registration.DeviceID,
	}
	if run := a.current; run != nil {
		st.Call = &CallStatus{
			CallID:      run.sess.CallID,
			PhoneNumber: run.sess.PhoneNumber,
			State:       run.sess.State().String(),
			Tick:        run.sess.TickCount(),
			Answered:    run.sess.IsAnswered(),
			HasAudio:    run.sess.HasAudio(),
		}
	}
	for _, cmd := range a.pending {
		st.Pending = append(st.Pending, cmd.CallID)
	}
	a.statusMu.Lock()
	a.status = st
	a.statusMu.Unlock()
}
