package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Money хранит денежную сумму в сентаво (минимальных единицах BRL).
// В JSON сериализуется как десятичное число, чтобы витрина видела привычные 37.5.
type Money int64

// MoneyFromDecimal переводит десятичное значение в сентаво с округлением до 2 знаков.
func MoneyFromDecimal(v float64) Money {
	return Money(math.Round(v * 100))
}

// Float возвращает сумму в виде десятичного числа.
func (m Money) Float() float64 {
	return float64(m) / 100
}

// Mul умножает цену на количество.
func (m Money) Mul(qty int32) Money {
	return m * Money(qty)
}

func (m Money) String() string {
	return strconv.FormatFloat(m.Float(), 'f', 2, 64)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(m.Float(), 'f', -1, 64)), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		// Платёжный провайдер и старые клиенты иногда присылают строку.
		var s string
		if strErr := json.Unmarshal(data, &s); strErr != nil {
			return fmt.Errorf("money must be a number: %w", err)
		}
		parsed, parseErr := strconv.ParseFloat(s, 64)
		if parseErr != nil {
			return fmt.Errorf("money must be a number: %w", parseErr)
		}
		v = parsed
	}
	*m = MoneyFromDecimal(v)
	return nil
}
