package bridge

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/chorus-net/chorus-bridge/internal/database"
	"github.com/chorus-net/chorus-bridge/internal/proto"
)

// dispatch applies the per-type side effects of an accepted envelope.
// Unknown or feature-disabled types are logged and skipped; the Conductor
// receipt still stands.
func (s *Service) dispatch(ctx context.Context, env *proto.FederationEnvelope, epoch int64) error {
	if !s.typeEnabled(env.MessageType) {
		s.logger.Printf("⏭️  Dispatch skipped for %s from %s (disabled)", env.MessageType, env.SenderInstance)
		return nil
	}

	switch env.MessageType {
	case proto.TypePostAnnouncement:
		var m proto.PostAnnouncement
		if err := proto.Unmarshal(env.MessageData, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		return s.repo.SaveFederatedPost(ctx, database.FederatedPost{
			PostID:         hex.EncodeToString(m.PostID),
			AuthorPubkey:   hex.EncodeToString(m.AuthorPubkey),
			ContentHash:    hex.EncodeToString(m.ContentHash),
			OrderIndex:     m.OrderIndex,
			CreationDay:    m.CreationDay,
			SourceInstance: env.SenderInstance,
		})

	case proto.TypeUserRegistration:
		var m proto.UserRegistration
		if err := proto.Unmarshal(env.MessageData, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		return s.repo.SaveRegisteredUser(ctx, database.RegisteredUser{
			UserPubkey:      hex.EncodeToString(m.UserPubkey),
			RegistrationDay: m.RegistrationDay,
			DayProofHash:    hex.EncodeToString(m.DayProofHash),
			SourceInstance:  env.SenderInstance,
		})

	case proto.TypeDayProof:
		var m proto.DayProof
		if err := proto.Unmarshal(env.MessageData, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		return s.repo.UpsertDayProof(ctx, database.DayProofRecord{
			DayNumber: m.DayNumber,
			Proof:     hex.EncodeToString(m.ValidatorQuorumSig),
			ProofHash: hex.EncodeToString(m.CanonicalProofHash),
			Canonical: true,
			Source:    env.SenderInstance,
		})

	case proto.TypeModerationEvent:
		var m proto.ModerationEvent
		if err := proto.Unmarshal(env.MessageData, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		return s.repo.RecordModerationEvent(ctx, database.ModerationRecord{
			EventID:        fmt.Sprintf("fed-%d", env.Nonce),
			TargetRef:      hex.EncodeToString(m.TargetRef),
			Action:         m.Action,
			ReasonHash:     hex.EncodeToString(m.ReasonHash),
			SourceInstance: env.SenderInstance,
			Epoch:          epoch,
		})

	case proto.TypeInstanceJoinRequest:
		var m proto.InstanceJoinRequest
		if err := proto.Unmarshal(env.MessageData, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		if err := s.trust.Add(m.InstanceID, m.InstancePubkey); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		s.logger.Printf("🤝 Instance %s joined via %s", m.InstanceID, env.SenderInstance)
		s.persistTrustStore()
		return nil

	case proto.TypeCommunityCreation:
		var m proto.CommunityCreation
		if err := proto.Unmarshal(env.MessageData, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		return s.repo.SaveFederatedCommunity(ctx, database.FederatedCommunity{
			CommunityID:    hex.EncodeToString(m.CommunityID),
			CreatorPubkey:  hex.EncodeToString(m.CreatorPubkey),
			NameHash:       hex.EncodeToString(m.NameHash),
			CreationDay:    m.CreationDay,
			SourceInstance: env.SenderInstance,
		})

	case proto.TypeUserUpdate:
		var m proto.UserUpdate
		if err := proto.Unmarshal(env.MessageData, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		return s.repo.SaveFederatedUserUpdate(ctx, database.FederatedUserUpdate{
			UserPubkey:     hex.EncodeToString(m.UserPubkey),
			ProfileHash:    hex.EncodeToString(m.ProfileHash),
			UpdateDay:      m.UpdateDay,
			SourceInstance: env.SenderInstance,
		})

	case proto.TypeCommunityUpdate:
		var m proto.CommunityUpdate
		if err := proto.Unmarshal(env.MessageData, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		return s.repo.SaveFederatedCommunityUpdate(ctx, database.FederatedCommunityUpdate{
			CommunityID:    hex.EncodeToString(m.CommunityID),
			SettingsHash:   hex.EncodeToString(m.SettingsHash),
			UpdateDay:      m.UpdateDay,
			SourceInstance: env.SenderInstance,
		})

	case proto.TypeCommunityMembershipUpdate:
		var m proto.CommunityMembershipUpdate
		if err := proto.Unmarshal(env.MessageData, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		return s.repo.SaveFederatedCommunityMembership(ctx, database.FederatedCommunityMembership{
			CommunityID:    hex.EncodeToString(m.CommunityID),
			UserPubkey:     hex.EncodeToString(m.UserPubkey),
			Action:         m.Action,
			UpdateDay:      m.UpdateDay,
			SourceInstance: env.SenderInstance,
		})

	case proto.TypeBlacklistUpdate:
		var m proto.BlacklistUpdate
		if err := proto.Unmarshal(env.MessageData, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		switch m.Action {
		case "add":
			s.trust.Remove(m.InstanceID)
			s.logger.Printf("🚫 Instance %s blacklisted via %s", m.InstanceID, env.SenderInstance)
			s.persistTrustStore()
		case "remove":
			// Un-blacklisting requires a fresh join request with a key.
			s.logger.Printf("⏭️  BlacklistUpdate remove for %s not supported, ignoring", m.InstanceID)
		default:
			s.logger.Printf("⏭️  BlacklistUpdate with unknown action %q, ignoring", m.Action)
		}
		return nil

	default:
		s.logger.Printf("⏭️  Dispatch skipped for unknown type %s from %s", env.MessageType, env.SenderInstance)
		return nil
	}
}

// typeEnabled consults the feature flags; a nil map enables everything.
func (s *Service) typeEnabled(messageType string) bool {
	if s.cfg.EnabledTypes == nil {
		return true
	}
	return s.cfg.EnabledTypes[messageType]
}

func (s *Service) persistTrustStore() {
	if s.cfg.TrustStorePath == "" {
		return
	}
	if err := s.trust.SaveFile(s.cfg.TrustStorePath); err != nil {
		s.logger.Printf("⚠️  trust store persist failed: %v", err)
	}
}
