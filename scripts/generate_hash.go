//go:build ignore

// generate_hash.go — утилита для генерации ADMIN_PASSWORD_HASH.
// Запуск: go run scripts/generate_hash.go ваш_пароль
package main

import (
	"fmt"
	"os"

	"serotonyl.ru/critics-guild/internal/features/admin"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Использование: go run scripts/generate_hash.go <пароль>")
		os.Exit(1)
	}

	hash, err := admin.HashPassword(os.Args[1])
	if err != nil {
		fmt.Printf("Ошибка: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Хеш пароля (вставьте в .env как ADMIN_PASSWORD_HASH):")
	fmt.Println(hash)
}
