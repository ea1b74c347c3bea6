// Package infra contém as implementações concretas de keystore.Table.
//
// Exemplos:
//   - FileTable: documento JSON único, substituído atomicamente a cada escrita
//   - BadgerTable: BadgerDB embarcado, um item por chave, substituição em uma transação
package infra
