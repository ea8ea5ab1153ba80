package protocol

// RPC method name constants for the gateway's WebSocket JSON-RPC surface
// (see internal/gateway) and the host-side methods of the external plugin
// protocol (see internal/channels/external).

// Gateway-facing methods.
const (
	MethodHealth         = "health"
	MethodChatSend       = "chat.send"
	MethodChatStream     = "chat.stream"
	MethodChatHistory    = "chat.history"
	MethodSessionsList   = "sessions.list"
	MethodSessionsDelete = "sessions.delete"
	MethodAgentsList     = "agents.list"
	MethodAgentsAdd      = "agents.add"
	MethodAgentsDelete   = "agents.delete"
	MethodChannelsList   = "channels.list"
	MethodChannelsStatus = "channels.status"
	MethodConfigGet      = "config.get"
	MethodConfigSet      = "config.set"

	// ChatEventMethod is the notification method used to forward a
	// chat.stream prompt's StreamEvents over the same WebSocket connection.
	ChatEventMethod = "chat.event"
)

// External-plugin-facing methods (host -> plugin requests).
const (
	PluginMethodInitialize       = "initialize"
	PluginMethodStart            = "start"
	PluginMethodStop             = "stop"
	PluginMethodSend             = "send"
	PluginMethodNotifyProcessing = "notify_processing"
	PluginMethodStatus           = "status"
	PluginMethodShutdown         = "shutdown"
)

// External-plugin-facing notifications (plugin -> host).
const (
	PluginNotifyInboundMessage = "inbound_message"
	PluginNotifyStatusChange   = "status_change"
	PluginNotifyLog            = "log"
)
