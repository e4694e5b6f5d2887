// Package application contém os casos de uso do rate limit distribuído e do
// limite de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(ctx, "ip:203.0.113.7") incrementa o contador da janela
// atual e retorna uma Decision (allow/deny + limit/remaining/reset).
package application
