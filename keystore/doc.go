// Package keystore guarda as chaves de API emitidas e o estado de cada uma
// (admin, suspensa, ativa).
//
// O Store mantém todos os registros em memória para o gate. Toda mutação é
// serializada, relê a tabela sob a trava dela (Locker, quando houver), aplica
// a mudança e persiste o conjunto inteiro via Table.ReplaceAll antes de
// retornar. Refresh e Refresher trazem mudanças de outros escritores.
//
// Backends de Table ficam em keystore/infra (arquivo JSON, BadgerDB).
package keystore
