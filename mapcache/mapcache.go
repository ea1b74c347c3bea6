// Package mapcache guarda imagens já compostas, indexadas pela impressão
// digital dos parâmetros do request.
//
// O TTL é fixo e conta a partir da inserção; leituras não renovam a entrada.
// Perder o cache nunca quebra o serviço, só custa uma ida ao provedor.
package mapcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL é a validade de uma imagem no cache.
const DefaultTTL = time.Hour

// Params são os parâmetros já validados de um request de /map.
type Params struct {
	Lat     float64
	Lon     float64
	Zoom    int
	Width   int
	Height  int
	MapType string
}

type Cache interface {
	Get(ctx context.Context, fingerprint string) ([]byte, bool)
	Put(ctx context.Context, fingerprint string, img []byte)
}

// Fingerprint é o hash SHA-256 (hex) da forma canônica dos parâmetros.
// Valores numericamente iguais ("40" e "40.0") geram a mesma impressão;
// maptype vazio vale "default".
func Fingerprint(p Params) string {
	mt := strings.TrimSpace(p.MapType)
	if mt == "" {
		mt = "default"
	}

	var b strings.Builder
	b.WriteString("lat=")
	b.WriteString(canonFloat(p.Lat))
	b.WriteString("|lon=")
	b.WriteString(canonFloat(p.Lon))
	b.WriteString("|zoom=")
	b.WriteString(strconv.Itoa(p.Zoom))
	b.WriteString("|w=")
	b.WriteString(strconv.Itoa(p.Width))
	b.WriteString("|h=")
	b.WriteString(strconv.Itoa(p.Height))
	b.WriteString("|type=")
	b.WriteString(mt)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func canonFloat(v float64) string {
	if v == 0 {
		v = 0 // -0 vira 0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Nop é o cache desligado: toda consulta é miss.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Nop) Put(context.Context, string, []byte)        {}
