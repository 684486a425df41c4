package native

// Call names a native entry point. The names double as the topic of remote
// engine requests, so they must stay stable.
type Call string

const (
	CallCreate                  Call = "create"
	CallConnect                 Call = "connect"
	CallDisconnect              Call = "disconnect"
	CallPumpStep                Call = "pump_step"
	CallSendMessage             Call = "send_message"
	CallSendImage               Call = "send_image"
	CallSendVideo               Call = "send_video"
	CallSendAudio               Call = "send_audio"
	CallSendDocument            Call = "send_document"
	CallSetGroupName            Call = "set_group_name"
	CallSetGroupTopic           Call = "set_group_topic"
	CallSetGroupAnnounce        Call = "set_group_announce"
	CallSetGroupLocked          Call = "set_group_locked"
	CallJoinGroupWithInviteLink Call = "join_group_with_invite_link"
	CallGetGroupInviteLink      Call = "get_group_invite_link"
	CallGetGroupInfo            Call = "get_group_info"
)

// The engine does not use one convention for success: the text send path
// reports 0, the media upload paths report 1. Each call gets its own entry.
// The audio path has no documented status and is assumed to behave like the
// other uploads.
var successStatus = map[Call]Status{
	CallConnect:                 0,
	CallDisconnect:              0,
	CallSendMessage:             0,
	CallSendImage:               1,
	CallSendVideo:               1,
	CallSendAudio:               1,
	CallSendDocument:            1,
	CallSetGroupName:            0,
	CallSetGroupTopic:           0,
	CallSetGroupAnnounce:        0,
	CallSetGroupLocked:          0,
	CallJoinGroupWithInviteLink: 0,
	CallGetGroupInviteLink:      0,
	CallGetGroupInfo:            0,
}

// SuccessStatus returns the status code that means success for call.
func SuccessStatus(call Call) (Status, bool) {
	s, ok := successStatus[call]
	return s, ok
}

// Succeeded reports whether s is the success code for call. Calls without a
// table entry never succeed.
func Succeeded(call Call, s Status) bool {
	want, ok := successStatus[call]
	return ok && s == want
}
