// Package domain define contratos e tipos de domínio para cota diária,
// rajada (token bucket) e concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura (go-cache, Redis, x/time/rate).
package domain
