// Package proto defines the Chorus federation wire format: the outer signed
// FederationEnvelope and the inner typed messages it carries. Messages are
// encoded as JSON with byte fields in base64, matching the Stage protocol.
package proto

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"lukechampine.com/blake3"
)

// Message type tags carried in FederationEnvelope.MessageType.
const (
	TypePostAnnouncement          = "PostAnnouncement"
	TypeUserRegistration          = "UserRegistration"
	TypeDayProof                  = "DayProof"
	TypeModerationEvent           = "ModerationEvent"
	TypeInstanceJoinRequest       = "InstanceJoinRequest"
	TypeCommunityCreation         = "CommunityCreation"
	TypeUserUpdate                = "UserUpdate"
	TypeCommunityUpdate           = "CommunityUpdate"
	TypeCommunityMembershipUpdate = "CommunityMembershipUpdate"
	TypeBlacklistUpdate           = "BlacklistUpdate"
)

// MessageTypes lists every known inner message tag.
var MessageTypes = []string{
	TypePostAnnouncement,
	TypeUserRegistration,
	TypeDayProof,
	TypeModerationEvent,
	TypeInstanceJoinRequest,
	TypeCommunityCreation,
	TypeUserUpdate,
	TypeCommunityUpdate,
	TypeCommunityMembershipUpdate,
	TypeBlacklistUpdate,
}

var ErrUnknownMessageType = errors.New("unknown message_type")

// ============================================================================
// ENVELOPE
// ============================================================================

// FederationEnvelope is the outer signed container for any federation
// message. Signature is a 64-byte Ed25519 detached signature over
// MessageData, verified against the sender's trust store key.
type FederationEnvelope struct {
	SenderInstance string `json:"sender_instance"`
	Nonce          uint64 `json:"nonce"`
	MessageType    string `json:"message_type"`
	MessageData    []byte `json:"message_data"`
	Signature      []byte `json:"signature"`
}

// DecodeEnvelope parses envelope bytes off the wire.
func DecodeEnvelope(raw []byte) (*FederationEnvelope, error) {
	var env FederationEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid FederationEnvelope bytes: %w", err)
	}
	if env.SenderInstance == "" {
		return nil, errors.New("invalid FederationEnvelope: empty sender_instance")
	}
	if env.MessageType == "" {
		return nil, errors.New("invalid FederationEnvelope: empty message_type")
	}
	return &env, nil
}

// Encode serializes the envelope for transport.
func (e *FederationEnvelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ============================================================================
// INNER MESSAGES
// ============================================================================

type PostAnnouncement struct {
	PostID       []byte `json:"post_id"`
	AuthorPubkey []byte `json:"author_pubkey"`
	ContentHash  []byte `json:"content_hash"`
	OrderIndex   int64  `json:"order_index"`
	CreationDay  int64  `json:"creation_day"`
}

type UserRegistration struct {
	UserPubkey      []byte `json:"user_pubkey"`
	RegistrationDay int64  `json:"registration_day"`
	DayProofHash    []byte `json:"day_proof_hash"`
}

type DayProof struct {
	DayNumber          int64  `json:"day_number"`
	CanonicalProofHash []byte `json:"canonical_proof_hash"`
	ValidatorQuorumSig []byte `json:"validator_quorum_sig"`
}

type ModerationEvent struct {
	TargetRef   []byte `json:"target_ref"`
	Action      string `json:"action"`
	ReasonHash  []byte `json:"reason_hash"`
	CreationDay int64  `json:"creation_day"`
}

type InstanceJoinRequest struct {
	InstanceID     string `json:"instance_id"`
	InstancePubkey []byte `json:"instance_pubkey"`
	ContactInfo    string `json:"contact_info"`
	DayNumber      int64  `json:"day_number"`
}

type CommunityCreation struct {
	CommunityID   []byte `json:"community_id"`
	CreatorPubkey []byte `json:"creator_pubkey"`
	NameHash      []byte `json:"name_hash"`
	CreationDay   int64  `json:"creation_day"`
}

type UserUpdate struct {
	UserPubkey  []byte `json:"user_pubkey"`
	ProfileHash []byte `json:"profile_hash"`
	UpdateDay   int64  `json:"update_day"`
}

type CommunityUpdate struct {
	CommunityID  []byte `json:"community_id"`
	SettingsHash []byte `json:"settings_hash"`
	UpdateDay    int64  `json:"update_day"`
}

type CommunityMembershipUpdate struct {
	CommunityID []byte `json:"community_id"`
	UserPubkey  []byte `json:"user_pubkey"`
	Action      string `json:"action"`
	UpdateDay   int64  `json:"update_day"`
}

type BlacklistUpdate struct {
	InstanceID string `json:"instance_id"`
	Action     string `json:"action"`
	ReasonHash []byte `json:"reason_hash"`
	UpdateDay  int64  `json:"update_day"`
}

// Marshal serializes an inner message for use as envelope message_data.
func Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

// Unmarshal decodes message_data into the given inner message struct.
func Unmarshal(data []byte, msg any) error {
	return json.Unmarshal(data, msg)
}

// ============================================================================
// EPOCH DERIVATION
// ============================================================================

// EpochOf decodes the inner message for the given type tag and returns its
// day field, which the bridge uses as the Conductor event epoch. Wall-clock
// time is never a substitute: a missing or unreadable day field is an error.
func EpochOf(messageType string, messageData []byte) (int64, error) {
	switch messageType {
	case TypePostAnnouncement:
		var m PostAnnouncement
		if err := json.Unmarshal(messageData, &m); err != nil {
			return 0, fmt.Errorf("decode %s: %w", messageType, err)
		}
		return m.CreationDay, nil
	case TypeUserRegistration:
		var m UserRegistration
		if err := json.Unmarshal(messageData, &m); err != nil {
			return 0, fmt.Errorf("decode %s: %w", messageType, err)
		}
		return m.RegistrationDay, nil
	case TypeDayProof:
		var m DayProof
		if err := json.Unmarshal(messageData, &m); err != nil {
			return 0, fmt.Errorf("decode %s: %w", messageType, err)
		}
		return m.DayNumber, nil
	case TypeModerationEvent:
		var m ModerationEvent
		if err := json.Unmarshal(messageData, &m); err != nil {
			return 0, fmt.Errorf("decode %s: %w", messageType, err)
		}
		return m.CreationDay, nil
	case TypeInstanceJoinRequest:
		var m InstanceJoinRequest
		if err := json.Unmarshal(messageData, &m); err != nil {
			return 0, fmt.Errorf("decode %s: %w", messageType, err)
		}
		return m.DayNumber, nil
	case TypeCommunityCreation:
		var m CommunityCreation
		if err := json.Unmarshal(messageData, &m); err != nil {
			return 0, fmt.Errorf("decode %s: %w", messageType, err)
		}
		return m.CreationDay, nil
	case TypeUserUpdate:
		var m UserUpdate
		if err := json.Unmarshal(messageData, &m); err != nil {
			return 0, fmt.Errorf("decode %s: %w", messageType, err)
		}
		return m.UpdateDay, nil
	case TypeCommunityUpdate:
		var m CommunityUpdate
		if err := json.Unmarshal(messageData, &m); err != nil {
			return 0, fmt.Errorf("decode %s: %w", messageType, err)
		}
		return m.UpdateDay, nil
	case TypeCommunityMembershipUpdate:
		var m CommunityMembershipUpdate
		if err := json.Unmarshal(messageData, &m); err != nil {
			return 0, fmt.Errorf("decode %s: %w", messageType, err)
		}
		return m.UpdateDay, nil
	case TypeBlacklistUpdate:
		var m BlacklistUpdate
		if err := json.Unmarshal(messageData, &m); err != nil {
			return 0, fmt.Errorf("decode %s: %w", messageType, err)
		}
		return m.UpdateDay, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMessageType, messageType)
	}
}

// ============================================================================
// DETERMINISTIC OUTBOUND NONCE
// ============================================================================

// DeterministicNonce derives an outbound envelope nonce from a canonical
// identifier string: the first 8 bytes of BLAKE3(identifier) read big-endian.
// Two bridges observing the same inner event therefore produce identical
// outbound envelopes, which collapse to one dedup entry downstream.
func DeterministicNonce(identifier string) uint64 {
	sum := blake3.Sum256([]byte(identifier))
	return binary.BigEndian.Uint64(sum[:8])
}

// OutboundIdentifier builds the canonical natural-key tuple for an inner
// message, used to seed DeterministicNonce for fan-out envelopes.
func OutboundIdentifier(messageType string, messageData []byte) (string, error) {
	switch messageType {
	case TypePostAnnouncement:
		var m PostAnnouncement
		if err := json.Unmarshal(messageData, &m); err != nil {
			return "", fmt.Errorf("decode %s: %w", messageType, err)
		}
		return fmt.Sprintf("%s-%d-%d", hex.EncodeToString(m.PostID), m.CreationDay, m.OrderIndex), nil
	case TypeUserRegistration:
		var m UserRegistration
		if err := json.Unmarshal(messageData, &m); err != nil {
			return "", fmt.Errorf("decode %s: %w", messageType, err)
		}
		return fmt.Sprintf("%s-%d", hex.EncodeToString(m.UserPubkey), m.RegistrationDay), nil
	case TypeDayProof:
		var m DayProof
		if err := json.Unmarshal(messageData, &m); err != nil {
			return "", fmt.Errorf("decode %s: %w", messageType, err)
		}
		return fmt.Sprintf("day-%d-%s", m.DayNumber, hex.EncodeToString(m.CanonicalProofHash)), nil
	case TypeModerationEvent:
		var m ModerationEvent
		if err := json.Unmarshal(messageData, &m); err != nil {
			return "", fmt.Errorf("decode %s: %w", messageType, err)
		}
		return fmt.Sprintf("%s-%s-%d", hex.EncodeToString(m.TargetRef), m.Action, m.CreationDay), nil
	case TypeInstanceJoinRequest:
		var m InstanceJoinRequest
		if err := json.Unmarshal(messageData, &m); err != nil {
			return "", fmt.Errorf("decode %s: %w", messageType, err)
		}
		return fmt.Sprintf("%s-%d", m.InstanceID, m.DayNumber), nil
	case TypeCommunityCreation:
		var m CommunityCreation
		if err := json.Unmarshal(messageData, &m); err != nil {
			return "", fmt.Errorf("decode %s: %w", messageType, err)
		}
		return fmt.Sprintf("%s-%d", hex.EncodeToString(m.CommunityID), m.CreationDay), nil
	case TypeUserUpdate:
		var m UserUpdate
		if err := json.Unmarshal(messageData, &m); err != nil {
			return "", fmt.Errorf("decode %s: %w", messageType, err)
		}
		return fmt.Sprintf("%s-%d", hex.EncodeToString(m.UserPubkey), m.UpdateDay), nil
	case TypeCommunityUpdate:
		var m CommunityUpdate
		if err := json.Unmarshal(messageData, &m); err != nil {
			return "", fmt.Errorf("decode %s: %w", messageType, err)
		}
		return fmt.Sprintf("%s-%d", hex.EncodeToString(m.CommunityID), m.UpdateDay), nil
	case TypeCommunityMembershipUpdate:
		var m CommunityMembershipUpdate
		if err := json.Unmarshal(messageData, &m); err != nil {
			return "", fmt.Errorf("decode %s: %w", messageType, err)
		}
		return fmt.Sprintf("%s-%s-%s-%d",
			hex.EncodeToString(m.CommunityID), hex.EncodeToString(m.UserPubkey), m.Action, m.UpdateDay), nil
	case TypeBlacklistUpdate:
		var m BlacklistUpdate
		if err := json.Unmarshal(messageData, &m); err != nil {
			return "", fmt.Errorf("decode %s: %w", messageType, err)
		}
		return fmt.Sprintf("%s-%s-%d", m.InstanceID, m.Action, m.UpdateDay), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMessageType, messageType)
	}
}
