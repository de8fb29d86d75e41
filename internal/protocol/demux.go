package protocol

import (
	"go.uber.org/zap"

	"casambi-go/internal/logging"
)

// headerLen is the fixed sub-message header: type, flags, length/parameter.
const headerLen = 3

// Split cuts one decrypted radio payload into its sub-messages in wire
// order. A truncated tail, whether an incomplete header, payload or
// extension, ends the scan silently: devices pad and fragment freely and a
// short tail means no further messages, not corruption.
//
// Extended switch sub-messages consume three extra bytes that follow their
// payload. Those bytes belong to the sub-message, not the stream; they are
// attached as the Extension and never reparsed as a header.
func Split(data []byte) []SubMessage {
	logging.LogRawBytes("Splitting payload", data)

	var msgs []SubMessage

	pos := 0
	for pos+headerLen <= len(data) {
		msgType := Type(data[pos])
		flags := data[pos+1]
		payloadLen := int(data[pos+2]>>4&0x0f) + 1
		parameter := data[pos+2] & 0x0f
		pos += headerLen

		if pos+payloadLen > len(data) {
			logging.Debug("Dropping truncated sub-message tail",
				zap.Stringer("type", msgType),
				zap.Int("declared", payloadLen),
				zap.Int("remaining", len(data)-pos))
			break
		}

		msg := SubMessage{
			Type:      msgType,
			Flags:     flags,
			Parameter: parameter,
			Payload:   data[pos : pos+payloadLen],
		}
		pos += payloadLen

		if msgType == TypeExtendedSwitch {
			if pos+extensionLen > len(data) {
				logging.Debug("Dropping extended switch without extension",
					zap.Int("remaining", len(data)-pos))
				break
			}
			msg.Extension = data[pos : pos+extensionLen]
			pos += extensionLen
		}

		msgs = append(msgs, msg)
	}
	return msgs
}
