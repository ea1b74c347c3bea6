// Package mapsvc produz a imagem final de /map: busca o mapa base no
// provedor, aplica a marca d'água e guarda o PNG no cache.
//
// Misses idênticos simultâneos viram uma única chamada ao provedor.
package mapsvc
