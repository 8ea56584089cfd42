package dispatch

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// URLValidator — SSRF-защита: адрес шлюза не должен указывать внутрь
// периметра. Проверяются и IP-литералы, и резолв имени хоста — иначе
// DNS-запись на 169.254.169.254 обходит проверку литералов.
type URLValidator struct {
	// AllowPrivate отключает проверку приватных диапазонов (dev/тесты).
	AllowPrivate bool
	// lookup инжектируется в тестах вместо реального DNS.
	lookup func(ctx context.Context, host string) ([]net.IP, error)
}

func NewURLValidator(allowPrivate bool) *URLValidator {
	return &URLValidator{
		AllowPrivate: allowPrivate,
		lookup: func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, len(addrs))
			for i, a := range addrs {
				ips[i] = a.IP
			}
			return ips, nil
		},
	}
}

// Validate возвращает ошибку для URL, указывающего на внутренние цели.
// Ошибка означает «не отправлять вовсе», а не «попробовать позже».
func (v *URLValidator) Validate(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("ssrf: malformed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("ssrf: scheme %q is not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("ssrf: empty host")
	}

	if v.AllowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return v.checkIP(ip)
	}

	ips, err := v.lookup(ctx, host)
	if err != nil {
		return fmt.Errorf("ssrf: failed to resolve %q: %w", host, err)
	}
	for _, ip := range ips {
		if err := v.checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func (v *URLValidator) checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("ssrf: loopback target %s rejected", ip)
	case ip.IsPrivate():
		return fmt.Errorf("ssrf: private target %s rejected", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		// Сюда попадает и 169.254.169.254 (cloud metadata)
		return fmt.Errorf("ssrf: link-local target %s rejected", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("ssrf: unspecified target %s rejected", ip)
	}
	return nil
}
