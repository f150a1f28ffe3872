package protocol

import "fmt"

// CommandKind is the 32-bit command code carried in every frame header.
type CommandKind uint32

// Command codes. CONTROL, STATUS, HEARTBEAT and DP_QUERY are the
// steady-state control kinds; the remainder belong to pairing, gateway and
// configuration flows and are only named for logging.
const (
	CommandUDP                   CommandKind = 0
	CommandAPConfig              CommandKind = 1
	CommandActive                CommandKind = 2
	CommandBind                  CommandKind = 3
	CommandRenameGateway         CommandKind = 4
	CommandRenameDevice          CommandKind = 5
	CommandUnbind                CommandKind = 6
	CommandControl               CommandKind = 7
	CommandStatus                CommandKind = 8
	CommandHeartbeat             CommandKind = 9
	CommandDPQuery               CommandKind = 10
	CommandQueryWifi             CommandKind = 11
	CommandTokenBind             CommandKind = 12
	CommandControlNew            CommandKind = 13
	CommandEnableWifi            CommandKind = 14
	CommandDPQueryNew            CommandKind = 16
	CommandSceneExecute          CommandKind = 17
	CommandUDPNew                CommandKind = 19
	CommandAPConfigNew           CommandKind = 20
	CommandLANGatewayActive      CommandKind = 240
	CommandLANSubDeviceRequest   CommandKind = 241
	CommandLANDeleteSubDevice    CommandKind = 242
	CommandLANReportSubDevice    CommandKind = 243
	CommandLANScene              CommandKind = 244
	CommandLANPublishCloudConfig CommandKind = 245
	CommandLANPublishAppConfig   CommandKind = 246
	CommandLANExportAppConfig    CommandKind = 247
	CommandLANPublishScenePanel  CommandKind = 248
	CommandLANRemoveGateway      CommandKind = 249
	CommandLANCheckGatewayUpdate CommandKind = 250
	CommandLANGatewayUpdate      CommandKind = 251
	CommandLANSetGatewayChannel  CommandKind = 252
)

var commandNames = map[CommandKind]string{
	CommandUDP:                   "UDP",
	CommandAPConfig:              "AP_CONFIG",
	CommandActive:                "ACTIVE",
	CommandBind:                  "BIND",
	CommandRenameGateway:         "RENAME_GW",
	CommandRenameDevice:          "RENAME_DEVICE",
	CommandUnbind:                "UNBIND",
	CommandControl:               "CONTROL",
	CommandStatus:                "STATUS",
	CommandHeartbeat:             "HEARTBEAT",
	CommandDPQuery:               "DP_QUERY",
	CommandQueryWifi:             "QUERY_WIFI",
	CommandTokenBind:             "TOKEN_BIND",
	CommandControlNew:            "CONTROL_NEW",
	CommandEnableWifi:            "ENABLE_WIFI",
	CommandDPQueryNew:            "DP_QUERY_NEW",
	CommandSceneExecute:          "SCENE_EXECUTE",
	CommandUDPNew:                "UDP_NEW",
	CommandAPConfigNew:           "AP_CONFIG_NEW",
	CommandLANGatewayActive:      "LAN_GW_ACTIVE",
	CommandLANSubDeviceRequest:   "LAN_SUB_DEV_REQUEST",
	CommandLANDeleteSubDevice:    "LAN_DELETE_SUB_DEV",
	CommandLANReportSubDevice:    "LAN_REPORT_SUB_DEV",
	CommandLANScene:              "LAN_SCENE",
	CommandLANPublishCloudConfig: "LAN_PUBLISH_CLOUD_CONFIG",
	CommandLANPublishAppConfig:   "LAN_PUBLISH_APP_CONFIG",
	CommandLANExportAppConfig:    "LAN_EXPORT_APP_CONFIG",
	CommandLANPublishScenePanel:  "LAN_PUBLISH_SCENE_PANEL",
	CommandLANRemoveGateway:      "LAN_REMOVE_GW",
	CommandLANCheckGatewayUpdate: "LAN_CHECK_GW_UPDATE",
	CommandLANGatewayUpdate:      "LAN_GW_UPDATE",
	CommandLANSetGatewayChannel:  "LAN_SET_GW_CHANNEL",
}

// String returns the protocol name of the command kind.
func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(k))
}

// Known reports whether k is a named command code.
func (k CommandKind) Known() bool {
	_, ok := commandNames[k]
	return ok
}

// hasVersionHeader reports whether client frames of this kind carry the
// version header in front of the ciphertext.
func (k CommandKind) hasVersionHeader() bool {
	return k != CommandDPQuery
}
