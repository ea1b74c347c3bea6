package keystore

import "context"

// Table é a tabela durável de registros.
//
// LoadAll devolve o conjunto completo; ReplaceAll substitui o conjunto
// inteiro de forma atômica (ou tudo é gravado, ou nada).
type Table interface {
	LoadAll(ctx context.Context) ([]Record, error)
	ReplaceAll(ctx context.Context, records []Record) error
}

// Locker é implementado por tabelas que outro processo (keyctl) pode gravar
// ao mesmo tempo. O Store segura a trava do LoadAll ao ReplaceAll de cada
// mutação.
type Locker interface {
	Lock(ctx context.Context) (unlock func() error, err error)
}
