//go:build !unix

package infra

import "os"

// Sem flock a trava vale só dentro do processo (Store.mu); keyctl não deve
// rodar junto com o gateway nessas plataformas.
func tryLock(*os.File) (bool, error) { return true, nil }

func unlock(*os.File) error { return nil }
