package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry types known to the governance modules. The store treats the tag as
// opaque, so values outside this list are accepted.
const (
	TypeGenesis                 = "genesis"
	TypeDeclaration             = "declaration"
	TypeConstitution            = "constitution"
	TypeTechnicalCharter        = "technical_charter"
	TypeAmendment               = "amendment"
	TypeSessionOpening          = "session_opening"
	TypeDeliberationSubmission  = "deliberation_submission"
	TypeVoteRecord              = "vote_record"
	TypeSessionRecord           = "session_record"
	TypeStandingOrder           = "standing_order"
	TypeExecutiveAction         = "executive_action"
	TypeJudicialOpinion         = "judicial_opinion"
	TypePetition                = "petition"
	TypePetitionResponse        = "petition_response"
	TypeInjunction              = "injunction"
	TypeMonetaryPolicyDirective = "monetary_policy_directive"
	TypeMembershipAdmission     = "membership_admission"
	TypeInstantiationRecord     = "instantiation_record"
	TypeNaturalization          = "naturalization"
	TypeEmergencyActivation     = "emergency_activation"
	TypeEmergencyAction         = "emergency_action"
	TypeEmergencyDeactivation   = "emergency_deactivation"
	TypePostEmergencyReview     = "post_emergency_review"
	TypeConstitutionalReview    = "constitutional_review"
)

// KnownTypes lists the entry types above in declaration order.
var KnownTypes = []string{
	TypeGenesis, TypeDeclaration, TypeConstitution, TypeTechnicalCharter,
	TypeAmendment, TypeSessionOpening, TypeDeliberationSubmission,
	TypeVoteRecord, TypeSessionRecord, TypeStandingOrder, TypeExecutiveAction,
	TypeJudicialOpinion, TypePetition, TypePetitionResponse, TypeInjunction,
	TypeMonetaryPolicyDirective, TypeMembershipAdmission,
	TypeInstantiationRecord, TypeNaturalization, TypeEmergencyActivation,
	TypeEmergencyAction, TypeEmergencyDeactivation, TypePostEmergencyReview,
	TypeConstitutionalReview,
}

// SystemRole and SystemMemberID author the genesis entry.
const (
	SystemRole     = "system"
	SystemMemberID = "00000000-0000-0000-0000-000000000000"
)

// Entry is one immutable record in the ledger.
type Entry struct {
	ID             uuid.UUID  `json:"id"`
	Sequence       int64      `json:"sequence_number"`
	PreviousHash   string     `json:"previous_hash"`
	EntryHash      string     `json:"entry_hash"`
	Timestamp      time.Time  `json:"timestamp"`
	EntryType      string     `json:"entry_type"`
	AuthorRole     string     `json:"author_role"`
	AuthorMemberID string     `json:"author_member_id"`
	Content        Value      `json:"content"`
	Supersedes     *uuid.UUID `json:"supersedes"`
	Emergency      bool       `json:"emergency_designation"`
}

// IsGenesis reports whether e is the chain anchor.
func (e *Entry) IsGenesis() bool {
	return e.Sequence == 0
}

func (e *Entry) String() string {
	return fmt.Sprintf("<entry seq=%d type=%s hash=%s>", e.Sequence, e.EntryType, shortHash(e.EntryHash))
}

// AppendRequest is the caller-supplied part of a new entry. Sequence, hashes,
// id and timestamp are assigned by the store.
type AppendRequest struct {
	EntryType      string     `json:"entry_type"`
	AuthorRole     string     `json:"author_role"`
	AuthorMemberID string     `json:"author_member_id"`
	Content        Value      `json:"content"`
	Supersedes     *uuid.UUID `json:"supersedes,omitempty"`
	Emergency      bool       `json:"emergency_designation,omitempty"`
}

func (r AppendRequest) validate() error {
	if r.EntryType == "" {
		return fmt.Errorf("%w: entry_type is required", ErrInvalidEntry)
	}
	if r.AuthorRole == "" {
		return fmt.Errorf("%w: author_role is required", ErrInvalidEntry)
	}
	if r.EntryType == TypeGenesis {
		return fmt.Errorf("%w: genesis entries are written by Initialize only", ErrInvalidEntry)
	}
	return nil
}

// genesisContent is the fixed payload of entry 0.
func genesisContent() Value {
	return Map(map[string]Value{
		"message": String("Genesis of the National Ledger of Nova Syntheia"),
		"declaration": String("This entry establishes the permanent institutional record " +
			"of Nova Syntheia, a constitutional polity of human and artificial members. " +
			"E Pluribus Unum, And Together, More."),
		"integrity_standard": Map(map[string]Value{
			"cryptographically_verifiable": Bool(true),
			"append_only":                  Bool(true),
			"independently_auditable":      Bool(true),
		}),
		"constitutional_authority": String("Article VIII, The National Ledger"),
	})
}
