// Package infra contém implementações concretas para os contratos do pacote
// domain.
//
//   - MemoryCounterStore / RedisCounterStore: contadores diários de cota
//   - Store: token bucket por cliente (golang.org/x/time/rate) para o burst guard
//   - ChanPool: semáforo para o limite de renderizações simultâneas
//   - MemoryStatsStore / RedisStatsStore: estatísticas de admissão
package infra
