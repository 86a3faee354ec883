package transport

// Listener receives session callbacks. All methods are invoked on the session goroutine,
// one at a time, so implementations may call back into the session (for example Send
// from OnPeerConnected) but must not block for long.
type Listener interface {
	OnPeerConnected()
	OnPeerDisconnected()
	OnMessageReceived(message []byte)
	// OnMessageSendProgress reports chunk progress of the message being sent;
	// sent == total marks completion.
	OnMessageSendProgress(sent, total int)
	OnTransportSpecificSessionTermination()
	OnError(err error)
	OnLog(text string)
	OnState(name string)
}

// ListenerFuncs adapts optional functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	PeerConnected       func()
	PeerDisconnected    func()
	MessageReceived     func(message []byte)
	MessageSendProgress func(sent, total int)
	SessionTerminated   func()
	Error               func(err error)
	Log                 func(text string)
	State               func(name string)
}

func (f ListenerFuncs) OnPeerConnected() {
	if f.PeerConnected != nil {
		f.PeerConnected()
	}
}

func (f ListenerFuncs) OnPeerDisconnected() {
	if f.PeerDisconnected != nil {
		f.PeerDisconnected()
	}
}

func (f ListenerFuncs) OnMessageReceived(message []byte) {
	if f.MessageReceived != nil {
		f.MessageReceived(message)
	}
}

func (f ListenerFuncs) OnMessageSendProgress(sent, total int) {
	if f.MessageSendProgress != nil {
		f.MessageSendProgress(sent, total)
	}
}

func (f ListenerFuncs) OnTransportSpecificSessionTermination() {
	if f.SessionTerminated != nil {
		f.SessionTerminated()
	}
}

func (f ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f ListenerFuncs) OnLog(text string) {
	if f.Log != nil {
		f.Log(text)
	}
}

func (f ListenerFuncs) OnState(name string) {
	if f.State != nil {
		f.State(name)
	}
}
