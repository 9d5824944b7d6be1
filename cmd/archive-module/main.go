// Точка входа Archive Module — архива файлов бизнес-сущностей.
// Команды: serve (HTTP-сервер), migrate (схема PostgreSQL),
// reconcile (сверка метаданных и содержимого), mint-token (токен скачивания).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка:", err)
		os.Exit(1)
	}
}
