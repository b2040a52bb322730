package cwidget

import (
	"fmt"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"github.com/pkg/errors"
)

type Input[T any] struct {
	widget.BaseWidget

	labelWidget *widget.Label
	entryWidget *widget.Entry
	errorWidget *widget.Label

	LabelText   string
	Placeholder string

	DefaultValue T

	OnChanged func(T)

	Validator func(string) (T, error)
}

func newInput[T any](label, placeholder string, defaultValue T, onChanged func(T), validator func(string) (T, error)) *Input[T] {
	input := &Input[T]{
		LabelText:    label,
		Placeholder:  placeholder,
		OnChanged:    onChanged,
		DefaultValue: defaultValue,
		Validator:    validator,
	}

	input.labelWidget = widget.NewLabel(fmt.Sprintf("%s: %v", label, defaultValue))
	input.labelWidget.TextStyle = fyne.TextStyle{Bold: true}

	input.entryWidget = widget.NewEntry()
	input.entryWidget.SetPlaceHolder(placeholder)

	input.errorWidget = widget.NewLabel("")
	input.errorWidget.Hidden = true
	input.errorWidget.TextStyle = fyne.TextStyle{Italic: true}
	input.errorWidget.Importance = widget.DangerImportance

	input.entryWidget.OnChanged = func(s string) {
		res, err := input.Validator(s)
		input.SetError(err)

		if err == nil {
			if input.OnChanged != nil {
				input.OnChanged(res)
			}
			input.labelWidget.SetText(fmt.Sprintf("%s: %v", label, res))
		}
	}

	input.ExtendBaseWidget(input)

	return input
}

// NewIntInput accepts whole numbers not below minValue. An empty entry means
// defaultValue.
func NewIntInput(label, placeholder string, defaultValue, minValue int, onChanged func(int)) *Input[int] {
	return newInput(label, placeholder, defaultValue, onChanged, func(s string) (int, error) {
		return parseMinInt(s, defaultValue, minValue)
	})
}

func parseMinInt(s string, defaultValue, minValue int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultValue, nil
	}

	res, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue, errors.New("not a whole number")
	}
	if res < minValue {
		return defaultValue, errors.Errorf("must be at least %d", minValue)
	}

	return res, nil
}

func (item *Input[T]) CreateRenderer() fyne.WidgetRenderer {
	c := container.NewVBox(
		item.labelWidget,
		item.entryWidget,
		item.errorWidget,
	)

	return widget.NewSimpleRenderer(c)
}

func (item *Input[T]) SetError(err error) {
	item.errorWidget.Hidden = err == nil
	if err != nil {
		item.errorWidget.SetText(err.Error())
	}
	item.errorWidget.Refresh()
}

func (item *Input[T]) SetText(text string) {
	item.entryWidget.SetText(text)
}
