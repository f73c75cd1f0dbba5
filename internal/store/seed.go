// ABOUTME: Default template seeding for fresh databases
// ABOUTME: Inserts the stock yes/no, budget, meeting and priority templates if absent

package store

import (
	"context"
	"errors"
	"fmt"
)

// defaultTemplates are created on first startup so a fresh deployment has
// something usable before anyone authors their own.
var defaultTemplates = []Template{
	{
		Name:        "yes_no",
		Question:    "{Вопрос}?",
		Options:     []string{"Да", "Нет"},
		Description: "Простой шаблон да/нет",
		Variables:   []string{"Вопрос"},
		Threshold:   50,
	},
	{
		Name:        "budget",
		Question:    "Выделить {Сумма} рублей на {Цель}?",
		Options:     []string{"За", "Против", "Воздержаться"},
		Description: "Голосование по бюджету",
		Variables:   []string{"Сумма", "Цель"},
		Threshold:   50,
	},
	{
		Name:        "meeting",
		Question:    "Встреча {Дата} в {Время}?",
		Options:     []string{"Подходит", "Не подходит", "Предложить другое"},
		Description: "Согласование встречи",
		Variables:   []string{"Дата", "Время"},
		Threshold:   50,
	},
	{
		Name:        "priority",
		Question:    "Приоритет: {Задача}",
		Options:     []string{"Высокий", "Средний", "Низкий"},
		Description: "Определение приоритета",
		Variables:   []string{"Задача"},
		Threshold:   50,
	},
}

// SeedDefaultTemplates inserts the stock templates, skipping any name that
// already exists. Safe to call on every startup.
func SeedDefaultTemplates(ctx context.Context, s Store) error {
	for i := range defaultTemplates {
		t := defaultTemplates[i]
		err := s.CreateTemplate(ctx, &t)
		if errors.Is(err, ErrDuplicateTemplate) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seeding template %q: %w", t.Name, err)
		}
	}
	return nil
}
