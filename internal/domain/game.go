package domain

import "time"

// Game es un juego registrado. Owner puede cerrar manualmente sus torneos;
// GameKey es el secreto que usa el backend del juego para enviar resultados y cerrar.
type Game struct {
	GameID    string    `json:"game_id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	GameKey   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Caller es quien solicita una operación autenticada.
type Caller struct {
	UserID  string
	GameKey string
}
