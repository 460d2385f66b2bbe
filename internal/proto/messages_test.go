package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelopeRoundTrip(t *testing.T) {
	env := FederationEnvelope{
		SenderInstance: "stage-a",
		Nonce:          42,
		MessageType:    TypePostAnnouncement,
		MessageData:    []byte(`{"creation_day":7}`),
		Signature:      make([]byte, 64),
	}
	raw, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, env, *decoded)
}

func TestDecodeEnvelopeRejectsInvalid(t *testing.T) {
	_, err := DecodeEnvelope([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"message_type":"PostAnnouncement"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sender_instance")

	_, err = DecodeEnvelope([]byte(`{"sender_instance":"stage-a"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message_type")
}

func TestEpochOfReadsEachDayField(t *testing.T) {
	cases := []struct {
		messageType string
		inner       any
		want        int64
	}{
		{TypePostAnnouncement, PostAnnouncement{CreationDay: 10}, 10},
		{TypeUserRegistration, UserRegistration{RegistrationDay: 11}, 11},
		{TypeDayProof, DayProof{DayNumber: 12}, 12},
		{TypeModerationEvent, ModerationEvent{CreationDay: 13}, 13},
		{TypeInstanceJoinRequest, InstanceJoinRequest{DayNumber: 14}, 14},
		{TypeCommunityCreation, CommunityCreation{CreationDay: 15}, 15},
		{TypeUserUpdate, UserUpdate{UpdateDay: 16}, 16},
		{TypeCommunityUpdate, CommunityUpdate{UpdateDay: 17}, 17},
		{TypeCommunityMembershipUpdate, CommunityMembershipUpdate{UpdateDay: 18}, 18},
		{TypeBlacklistUpdate, BlacklistUpdate{UpdateDay: 19}, 19},
	}
	for _, tc := range cases {
		t.Run(tc.messageType, func(t *testing.T) {
			data, err := Marshal(tc.inner)
			require.NoError(t, err)
			epoch, err := EpochOf(tc.messageType, data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, epoch)
		})
	}
}

func TestEpochOfUnknownType(t *testing.T) {
	_, err := EpochOf("Telegram", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestEpochOfBadPayload(t *testing.T) {
	_, err := EpochOf(TypePostAnnouncement, []byte("garbage"))
	assert.Error(t, err)
}

func TestDeterministicNonceIsStable(t *testing.T) {
	a := DeterministicNonce("0102-7-3")
	b := DeterministicNonce("0102-7-3")
	c := DeterministicNonce("0102-7-4")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotZero(t, a)
}

func TestOutboundIdentifierPostTuple(t *testing.T) {
	data, err := Marshal(PostAnnouncement{
		PostID:      []byte{0x01, 0x02},
		CreationDay: 7,
		OrderIndex:  3,
	})
	require.NoError(t, err)

	id, err := OutboundIdentifier(TypePostAnnouncement, data)
	require.NoError(t, err)
	assert.Equal(t, "0102-7-3", id)
}

func TestOutboundIdentifierCoversAllTypes(t *testing.T) {
	inners := map[string]any{
		TypePostAnnouncement:          PostAnnouncement{PostID: []byte{1}},
		TypeUserRegistration:          UserRegistration{UserPubkey: []byte{2}},
		TypeDayProof:                  DayProof{DayNumber: 3},
		TypeModerationEvent:           ModerationEvent{TargetRef: []byte{4}, Action: "remove_post"},
		TypeInstanceJoinRequest:       InstanceJoinRequest{InstanceID: "stage-b"},
		TypeCommunityCreation:         CommunityCreation{CommunityID: []byte{5}},
		TypeUserUpdate:                UserUpdate{UserPubkey: []byte{6}},
		TypeCommunityUpdate:           CommunityUpdate{CommunityID: []byte{7}},
		TypeCommunityMembershipUpdate: CommunityMembershipUpdate{CommunityID: []byte{8}, Action: "join"},
		TypeBlacklistUpdate:           BlacklistUpdate{InstanceID: "stage-c", Action: "add"},
	}
	require.Len(t, inners, len(MessageTypes))

	seen := make(map[string]bool)
	for messageType, inner := range inners {
		data, err := Marshal(inner)
		require.NoError(t, err)
		id, err := OutboundIdentifier(messageType, data)
		require.NoError(t, err, messageType)
		assert.NotEmpty(t, id, messageType)
		assert.False(t, seen[messageType+id], "identifier collision for %s", messageType)
		seen[messageType+id] = true
	}

	_, err := OutboundIdentifier("Telegram", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}
