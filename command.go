package poolcmd

type CommandName string

const (
	CommandCreate             CommandName = "create"
	CommandDelete             CommandName = "delete"
	CommandOpen               CommandName = "open"
	CommandList               CommandName = "list"
	CommandClose              CommandName = "close"
	CommandCloseAck           CommandName = "close_ack"
	CommandRefresh            CommandName = "refresh"
	CommandSetProtocolVersion CommandName = "set_protocol_version"
)

// Command is one pool operation. The set of implementations is closed to
// this package.
type Command interface {
	Name() CommandName
	command()
}

// Handle identifies an open pool.
type Handle int32

// CorrelationID is issued by the service when a close begins and is echoed
// back by the matching acknowledgement.
type CorrelationID string

// PoolConfig is the creation config of a pool ledger.
type PoolConfig struct {
	GenesisTxn string `json:"genesis_txn"`
}

// OpenConfig tunes how a pool is opened. Zero values mean service defaults.
type OpenConfig struct {
	Timeout           int64    `json:"timeout,omitempty"`
	ExtendedTimeout   int64    `json:"extended_timeout,omitempty"`
	ConnLimit         int64    `json:"conn_limit,omitempty"`
	ConnActiveTimeout int64    `json:"conn_active_timeout,omitempty"`
	PreorderedNodes   []string `json:"preordered_nodes,omitempty"`
	NumberReadNodes   uint8    `json:"number_read_nodes,omitempty"`
}

// PoolInfo is one entry of the pool listing.
type PoolInfo struct {
	Pool string `json:"pool"`
}

// Callback receives the outcome of a command without a payload.
type Callback func(err error)

// OpenCallback receives the handle of an opened pool.
type OpenCallback func(handle Handle, err error)

// ListCallback receives the serialized pool listing.
type ListCallback func(listing string, err error)

type Create struct {
	Pool     string
	Config   *PoolConfig
	Callback Callback
}

type Delete struct {
	Pool     string
	Callback Callback
}

type Open struct {
	Pool     string
	Config   *OpenConfig
	Callback OpenCallback
}

type List struct {
	Callback ListCallback
}

// Close begins teardown of an open pool. Callback fires once the matching
// CloseAck is executed, not when Close returns.
type Close struct {
	Handle   Handle
	Callback Callback
}

// CloseAck resolves the pending Close registered under ID.
type CloseAck struct {
	ID     CorrelationID
	Result error
}

type Refresh struct {
	Handle   Handle
	Callback Callback
}

type SetProtocolVersion struct {
	Version  int
	Callback Callback
}

func (Create) Name() CommandName { return CommandCreate }
func (Delete) Name() CommandName { return CommandDelete }
func (Open) Name() CommandName { return CommandOpen }
func (List) Name() CommandName { return CommandList }
func (Close) Name() CommandName { return CommandClose }
func (CloseAck) Name() CommandName { return CommandCloseAck }
func (Refresh) Name() CommandName { return CommandRefresh }
func (SetProtocolVersion) Name() CommandName { return CommandSetProtocolVersion }

func (Create) command() {}
func (Delete) command() {}
func (Open) command() {}
func (List) command() {}
func (Close) command() {}
func (CloseAck) command() {}
func (Refresh) command() {}
func (SetProtocolVersion) command() {}

// hasCallback reports whether cmd carries the callback its variant requires.
func hasCallback(cmd Command) bool {
	switch c := cmd.(type) {
	case Create:
		return c.Callback != nil
	case Delete:
		return c.Callback != nil
	case Open:
		return c.Callback != nil
	case List:
		return c.Callback != nil
	case Close:
		return c.Callback != nil
	case Refresh:
		return c.Callback != nil
	case SetProtocolVersion:
		return c.Callback != nil
	case CloseAck:
		return true
	}
	return false
}
