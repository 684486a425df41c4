package client

import (
	"unicode/utf8"

	"github.com/lightforgemedia/go-wabridge/pkg/native"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

// conversationField is the Message field carrying plain text.
const conversationField protowire.Number = 1

// Target addresses a chat: a phone number or a group id.
type Target struct {
	ID    string
	Group bool
}

// Phone addresses a one-to-one chat.
func Phone(number string) Target { return Target{ID: number} }

// GroupJID addresses a group chat.
func GroupJID(id string) Target { return Target{ID: id, Group: true} }

func checkText(field, v string, allowEmpty bool) error {
	if v == "" && !allowEmpty {
		return &ValidationError{Field: field, Reason: "must not be empty"}
	}
	if !utf8.ValidString(v) {
		return &ValidationError{Field: field, Reason: "not valid UTF-8"}
	}
	return nil
}

func (t Target) check() error {
	if t.Group {
		return checkText("group", t.ID, false)
	}
	return checkText("phone", t.ID, false)
}

// TextBody encodes text as a Message with only the conversation field set.
func TextBody(text string) []byte {
	b := protowire.AppendTag(nil, conversationField, protowire.BytesType)
	return protowire.AppendString(b, text)
}

// fire runs a fire-and-forget entry point and maps its status.
func (c *Client) fire(call native.Call, issue func() native.Status) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	st := issue()
	if st == native.StatusInvalidHandle && c.closed() {
		return false, ErrDisconnected
	}
	ok := native.Succeeded(call, st)
	if !ok {
		c.logger.Debug("native call failed", "call", string(call), "status", int32(st))
	}
	return ok, nil
}

// SendText sends a plain text message.
func (c *Client) SendText(to Target, text string) (bool, error) {
	if err := to.check(); err != nil {
		return false, err
	}
	if err := checkText("text", text, false); err != nil {
		return false, err
	}
	return c.sendBody(to, TextBody(text))
}

// SendMessage sends a full protobuf message body.
func (c *Client) SendMessage(to Target, msg proto.Message) (bool, error) {
	if err := to.check(); err != nil {
		return false, err
	}
	if msg == nil {
		return false, &ValidationError{Field: "message", Reason: "must not be nil"}
	}
	body, err := proto.Marshal(msg)
	if err != nil {
		return false, &ValidationError{Field: "message", Reason: err.Error()}
	}
	if len(body) == 0 {
		return false, &ValidationError{Field: "message", Reason: "encodes to an empty body"}
	}
	return c.sendBody(to, body)
}

// SendRawMessage sends an already encoded message body unchanged.
func (c *Client) SendRawMessage(to Target, body []byte) (bool, error) {
	if err := to.check(); err != nil {
		return false, err
	}
	if len(body) == 0 {
		return false, &ValidationError{Field: "body", Reason: "must not be empty"}
	}
	return c.sendBody(to, body)
}

func (c *Client) sendBody(to Target, body []byte) (bool, error) {
	return c.fire(native.CallSendMessage, func() native.Status {
		return c.engine.SendMessage(c.handle, to.ID, body, to.Group)
	})
}

func checkMedia(to Target, path, caption string) error {
	if err := to.check(); err != nil {
		return err
	}
	if err := checkText("path", path, false); err != nil {
		return err
	}
	return checkText("caption", caption, true)
}

// SendImage sends the image at path with an optional caption.
func (c *Client) SendImage(to Target, path, caption string) (bool, error) {
	if err := checkMedia(to, path, caption); err != nil {
		return false, err
	}
	return c.fire(native.CallSendImage, func() native.Status {
		return c.engine.SendImage(c.handle, to.ID, path, caption, to.Group)
	})
}

// SendVideo sends the video at path with an optional caption.
func (c *Client) SendVideo(to Target, path, caption string) (bool, error) {
	if err := checkMedia(to, path, caption); err != nil {
		return false, err
	}
	return c.fire(native.CallSendVideo, func() native.Status {
		return c.engine.SendVideo(c.handle, to.ID, path, caption, to.Group)
	})
}

// SendAudio sends the audio file at path. Audio has no caption. The engine
// does not document its audio status, so success is assumed to be 1, as for
// the other media uploads.
func (c *Client) SendAudio(to Target, path string) (bool, error) {
	if err := checkMedia(to, path, ""); err != nil {
		return false, err
	}
	return c.fire(native.CallSendAudio, func() native.Status {
		return c.engine.SendAudio(c.handle, to.ID, path, to.Group)
	})
}

// SendDocument sends the file at path with an optional caption.
func (c *Client) SendDocument(to Target, path, caption string) (bool, error) {
	if err := checkMedia(to, path, caption); err != nil {
		return false, err
	}
	return c.fire(native.CallSendDocument, func() native.Status {
		return c.engine.SendDocument(c.handle, to.ID, path, caption, to.Group)
	})
}

// SetGroupName renames group. name must not be empty.
func (c *Client) SetGroupName(group, name string) (bool, error) {
	if err := checkText("group", group, false); err != nil {
		return false, err
	}
	if err := checkText("name", name, false); err != nil {
		return false, err
	}
	return c.fire(native.CallSetGroupName, func() native.Status {
		return c.engine.SetGroupName(c.handle, group, name)
	})
}

// SetGroupTopic sets the group description. An empty topic clears it.
func (c *Client) SetGroupTopic(group, topic string) (bool, error) {
	if err := checkText("group", group, false); err != nil {
		return false, err
	}
	if err := checkText("topic", topic, true); err != nil {
		return false, err
	}
	return c.fire(native.CallSetGroupTopic, func() native.Status {
		return c.engine.SetGroupTopic(c.handle, group, topic)
	})
}

// SetGroupAnnounce restricts sending messages to admins.
func (c *Client) SetGroupAnnounce(group string, announce bool) (bool, error) {
	if err := checkText("group", group, false); err != nil {
		return false, err
	}
	return c.fire(native.CallSetGroupAnnounce, func() native.Status {
		return c.engine.SetGroupAnnounce(c.handle, group, announce)
	})
}

// SetGroupLocked restricts editing group info to admins.
func (c *Client) SetGroupLocked(group string, locked bool) (bool, error) {
	if err := checkText("group", group, false); err != nil {
		return false, err
	}
	return c.fire(native.CallSetGroupLocked, func() native.Status {
		return c.engine.SetGroupLocked(c.handle, group, locked)
	})
}

// JoinGroupWithInviteLink joins the group behind an invite code.
func (c *Client) JoinGroupWithInviteLink(code string) (bool, error) {
	if err := checkText("invite code", code, false); err != nil {
		return false, err
	}
	return c.fire(native.CallJoinGroupWithInviteLink, func() native.Status {
		return c.engine.JoinGroupWithInviteLink(c.handle, code)
	})
}
