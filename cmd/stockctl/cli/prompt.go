package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errInputClosed = errors.New("input closed")

// prompter asks questions on out and reads single-line answers from in.
type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewScanner(in), out: out}
}

func (p *prompter) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// ask prints question and returns the trimmed answer.
func (p *prompter) ask(question string) (string, error) {
	p.printf("%s ", question)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", errInputClosed
	}
	return strings.TrimSpace(p.in.Text()), nil
}

// choose repeats question until the answer is one of options.
func (p *prompter) choose(question string, options ...string) (string, error) {
	for {
		answer, err := p.ask(fmt.Sprintf("%s [%s]", question, strings.Join(options, "/")))
		if err != nil {
			return "", err
		}
		answer = strings.ToLower(answer)
		for _, o := range options {
			if answer == o {
				return o, nil
			}
		}
		p.printf("Please answer one of: %s\n", strings.Join(options, ", "))
	}
}
