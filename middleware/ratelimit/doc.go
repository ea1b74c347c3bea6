// Package ratelimit fornece os adapters HTTP (net/http) do controle de tráfego
// de /map.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos (sem dependência de net/http)
//   - application: cota diária, flag de manutenção, burst guard e vagas de
//     renderização, sem net/http
//   - infra: contadores (go-cache, Redis), token bucket, semáforo, estatísticas
//   - ratelimit (este pacote): middlewares HTTP, extração da chave do cliente
//     e tradução das decisões para status/headers
//
// Ordem em /map:
//
//  1. BurstMiddleware: rajadas por IP (429 + Retry-After)
//  2. gatekeeper: credencial e cota diária (WriteQuotaHeaders)
//
// As vagas de renderização (application.ConcurrencyService) não são
// middleware: mapsvc.Renderer as toma só no cache miss.
package ratelimit
