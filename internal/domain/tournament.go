package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Status es el estado operativo de un torneo abierto.
type Status string

const (
	StatusOpen       Status = "open"
	StatusLocked     Status = "locked"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

// Valid devuelve true para los estados que admite un torneo abierto.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusLocked, StatusInProgress:
		return true
	}
	return false
}

// Trigger es el motivo por el que un torneo pasa de abierto a cerrado.
type Trigger string

const (
	TriggerTimed          Trigger = "timed"
	TriggerAutoSubmission Trigger = "auto_submission"
	TriggerManual         Trigger = "manual"
)

// Reward es el premio del torneo. Amount nunca es float: es dinero.
type Reward struct {
	Token        string          `json:"token"`
	Amount       decimal.Decimal `json:"amount"`
	RewardWallet string          `json:"reward_wallet"`
	Network      string          `json:"network,omitempty"`
}

// ResultEntry es el último resultado enviado por un jugador.
// Hay como mucho uno por UserName: reenviar sobreescribe.
type ResultEntry struct {
	UserName    string         `json:"user_name"`
	Data        map[string]any `json:"data"`
	Final       bool           `json:"final"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// OpenTournament es un torneo que todavía acepta resultados.
type OpenTournament struct {
	ChallengeID         string          `json:"challenge_id"`
	GameID              string          `json:"game_id"`
	Title               string          `json:"title"`
	Description         string          `json:"description"`
	Participants        []string        `json:"participants"`
	MaxParticipants     int             `json:"max_participants"`
	Unlimited           bool            `json:"unlimited_participants"`
	Status              Status          `json:"status"`
	Rules               json.RawMessage `json:"rules,omitempty"`
	AntiCheat           AntiCheat       `json:"anti_cheat"`
	WinnerLogic         WinnerLogic     `json:"winner_logic"`
	PayoutStructure     PayoutStructure `json:"payout_structure"`
	Reward              Reward          `json:"reward"`
	Results             []ResultEntry   `json:"results"`
	EndWhenAllSubmitted bool            `json:"end_when_all_submitted"`
	AutoRestart         bool            `json:"auto_restart"`
	ExpiresAt           time.Time       `json:"expires_at"`
	CreatedAt           time.Time       `json:"created_at"`
}

// ClosedTournament es la proyección inmutable de un torneo cerrado.
type ClosedTournament struct {
	ChallengeID     string          `json:"challenge_id"`
	GameID          string          `json:"game_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Participants    []string        `json:"participants"`
	MaxParticipants int             `json:"max_participants"`
	Unlimited       bool            `json:"unlimited_participants"`
	Status          Status          `json:"status"`
	Rules           json.RawMessage `json:"rules,omitempty"`
	AntiCheat       AntiCheat       `json:"anti_cheat"`
	WinnerLogic     WinnerLogic     `json:"winner_logic"`
	PayoutStructure PayoutStructure `json:"payout_structure"`
	Reward          Reward          `json:"reward"`
	Results         []ResultEntry   `json:"results"`
	Winners         []Winner        `json:"winners"`
	Payouts         []Payout        `json:"payouts"`
	EndWhenAll      bool            `json:"end_when_all_submitted"`
	AutoRestart     bool            `json:"auto_restart"`
	ExpiresAt       time.Time       `json:"expires_at"`
	CreatedAt       time.Time       `json:"created_at"`
	ClosedAt        time.Time       `json:"closed_at"`
	ClosedBy        Trigger         `json:"closed_by"`
}

// DistinctSubmissions cuenta los jugadores con al menos un resultado.
func (t OpenTournament) DistinctSubmissions() int {
	seen := make(map[string]struct{}, len(t.Results))
	for _, r := range t.Results {
		seen[r.UserName] = struct{}{}
	}
	return len(seen)
}

// IsExpired devuelve true si now >= expires_at.
func (t OpenTournament) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// AllSubmitted es la precondición del cierre por envíos: configurado para cerrar,
// con cupo finito (>0) y tantos jugadores distintos como cupo.
func (t OpenTournament) AllSubmitted() bool {
	if !t.EndWhenAllSubmitted || t.Unlimited || t.MaxParticipants <= 0 {
		return false
	}
	return t.DistinctSubmissions() >= t.MaxParticipants
}

// IsFull devuelve true si un jugador nuevo ya no cabe en el torneo.
func (t OpenTournament) IsFull() bool {
	if t.Unlimited || t.MaxParticipants <= 0 {
		return false
	}
	return len(t.Participants) >= t.MaxParticipants
}

// FindResult busca el resultado actual de un jugador.
func (t OpenTournament) FindResult(userName string) (ResultEntry, bool) {
	for _, r := range t.Results {
		if r.UserName == userName {
			return r, true
		}
	}
	return ResultEntry{}, false
}

// HasParticipant devuelve true si el jugador ya forma parte del torneo.
func (t OpenTournament) HasParticipant(userName string) bool {
	for _, p := range t.Participants {
		if p == userName {
			return true
		}
	}
	return false
}

// WithResult aplica un envío en memoria con la misma semántica que el store:
// last-write-wins por jugador, conservando la posición del primer envío.
func (t OpenTournament) WithResult(r ResultEntry) OpenTournament {
	results := make([]ResultEntry, 0, len(t.Results)+1)
	replaced := false
	for _, existing := range t.Results {
		if existing.UserName == r.UserName {
			results = append(results, r)
			replaced = true
			continue
		}
		results = append(results, existing)
	}
	if !replaced {
		results = append(results, r)
	}
	t.Results = results

	if !t.HasParticipant(r.UserName) {
		t.Participants = append(append([]string(nil), t.Participants...), r.UserName)
	}
	return t
}

// Close proyecta el torneo abierto a su registro cerrado.
func (t OpenTournament) Close(winners []Winner, payouts []Payout, trigger Trigger, closedAt time.Time) ClosedTournament {
	return ClosedTournament{
		ChallengeID:     t.ChallengeID,
		GameID:          t.GameID,
		Title:           t.Title,
		Description:     t.Description,
		Participants:    t.Participants,
		MaxParticipants: t.MaxParticipants,
		Unlimited:       t.Unlimited,
		Status:          StatusClosed,
		Rules:           t.Rules,
		AntiCheat:       t.AntiCheat,
		WinnerLogic:     t.WinnerLogic,
		PayoutStructure: t.PayoutStructure,
		Reward:          t.Reward,
		Results:         t.Results,
		Winners:         winners,
		Payouts:         payouts,
		EndWhenAll:      t.EndWhenAllSubmitted,
		AutoRestart:     t.AutoRestart,
		ExpiresAt:       t.ExpiresAt,
		CreatedAt:       t.CreatedAt,
		ClosedAt:        closedAt.UTC(),
		ClosedBy:        trigger,
	}
}

// Validate comprueba los campos obligatorios y la configuración de ranking y premios.
func (t OpenTournament) Validate() error {
	var problems []string
	if t.ChallengeID == "" {
		problems = append(problems, "challenge_id is required")
	}
	if t.GameID == "" {
		problems = append(problems, "game_id is required")
	}
	if t.Title == "" {
		problems = append(problems, "title is required")
	}
	if t.Reward.Token == "" || t.Reward.RewardWallet == "" {
		problems = append(problems, "reward.token and reward.reward_wallet are required")
	}
	if !t.Reward.Amount.IsPositive() {
		problems = append(problems, "reward.amount must be positive")
	}
	if t.ExpiresAt.IsZero() {
		problems = append(problems, "expires_at is required")
	}
	if t.MaxParticipants < 0 {
		problems = append(problems, "max_participants must not be negative")
	}
	if t.Status != "" && !t.Status.Valid() {
		problems = append(problems, "status must be open, locked or in_progress")
	}
	if err := t.WinnerLogic.Validate(); err != nil {
		problems = append(problems, problemsOf(err)...)
	}
	if err := t.PayoutStructure.Validate(t.Reward.Amount); err != nil {
		problems = append(problems, problemsOf(err)...)
	}
	if err := t.AntiCheat.ValidateConfig(); err != nil {
		problems = append(problems, problemsOf(err)...)
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func problemsOf(err error) []string {
	if ve, ok := err.(*ValidationError); ok {
		return ve.Problems
	}
	return []string{err.Error()}
}
