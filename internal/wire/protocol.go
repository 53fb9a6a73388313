package wire

// HelloKind tags which handshake variant a Hello carries.
type HelloKind byte

const (
	HelloAnonymousKind HelloKind = iota
	HelloTokenKind
)

// Hello is the first message exchanged on a fresh connection to a
// publisher, before any subscribe traffic flows.
type Hello struct {
	Kind  HelloKind
	Token []byte
}

// ToKind tags which command variant a To message carries.
type ToKind byte

const (
	ToSubscribeKind ToKind = iota
	ToUnsubscribeKind
)

// To is a message sent from the subscriber to a publisher over an
// established connection.
type To struct {
	Kind ToKind
	Sub  ToSubscribe
	Unsub ToUnsubscribe
}

// ToSubscribe asks the publisher to begin streaming updates for Path,
// tagged with the subscriber-local SubID the replies will echo back.
type ToSubscribe struct {
	ID   SubID
	Path Path
}

// ToUnsubscribe tells the publisher to stop streaming updates for the
// subscription identified by the publisher-assigned ProtoID.
type ToUnsubscribe struct {
	ID ProtoID
}

// FromKind tags which reply variant a From message carries.
type FromKind byte

const (
	FromSubscribedKind FromKind = iota
	FromUpdateKind
	FromUnsubscribedKind
	FromNoSuchValueKind
	FromDeniedKind
	FromHeartbeatKind
)

// From is a message received from a publisher over an established
// connection.
type From struct {
	Kind        FromKind
	Subscribed  FromSubscribed
	Update      FromUpdate
	Unsubscribed FromUnsubscribed
	NoSuchValue FromNoSuchValue
	Denied      FromDenied
}

// FromSubscribed confirms a prior ToSubscribe, binding the subscriber's
// SubID to the publisher's ProtoID and carrying the current value.
type FromSubscribed struct {
	SubID   SubID
	ProtoID ProtoID
	Current Value
}

// FromUpdate carries a new value for an already-subscribed ProtoID.
type FromUpdate struct {
	ProtoID ProtoID
	Value   Value
}

// FromUnsubscribed tells the subscriber the publisher dropped a
// subscription on its own initiative (the value was removed, etc).
type FromUnsubscribed struct {
	ProtoID ProtoID
}

// FromNoSuchValue answers a ToSubscribe whose path the publisher does
// not host.
type FromNoSuchValue struct {
	SubID SubID
}

// FromDenied answers a ToSubscribe the publisher's access control
// rejected.
type FromDenied struct {
	SubID SubID
}

// AddrToken pairs a dialable publisher address with an opaque
// resolver-issued authentication token for that address.
type AddrToken struct {
	Addr  string
	Token []byte
}

// Resolved is the resolver's answer to a batch resolve request: for
// each requested Path, the set of publisher addresses hosting it.
type Resolved struct {
	Addrs    [][]AddrToken
	Resolver ResolverID
	Krb5SPNs map[string]string
}
